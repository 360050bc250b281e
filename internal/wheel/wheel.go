package wheel

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/spin-rooms/internal/apperr"
	"github.com/DoyleJ11/spin-rooms/internal/fairness"
	"github.com/DoyleJ11/spin-rooms/pkg/types"
)

const (
	MinOptions     = 2
	MaxOptions     = 64
	MaxLabelLength = 64
	MaxIDLength    = 64
	// MaxWeight keeps the weight sum of a full wheel finite.
	MaxWeight = 1000
)

// Palette is assigned round-robin to options that arrive without a color.
var Palette = []string{
	"#ef4444", "#f97316", "#f59e0b", "#eab308",
	"#84cc16", "#22c55e", "#10b981", "#14b8a6",
	"#06b6d4", "#0ea5e9", "#3b82f6", "#6366f1",
	"#8b5cf6", "#a855f7", "#d946ef", "#ec4899",
}

// Default is the wheel a room starts with when nothing seeds it.
func Default() []types.Option {
	return []types.Option{
		{ID: uuid.NewString(), Label: "Option 1", Color: Palette[0], Weight: 1},
		{ID: uuid.NewString(), Label: "Option 2", Color: Palette[1], Weight: 1},
	}
}

// Normalize validates opts and returns a cleaned copy: labels trimmed and NFC
// normalized, missing ids generated, missing colors taken from the palette.
// The input slice is not modified.
func Normalize(opts []types.Option) ([]types.Option, error) {
	if len(opts) < MinOptions {
		return nil, fmt.Errorf("%w: at least %d options are required", apperr.ErrValidation, MinOptions)
	}
	if len(opts) > MaxOptions {
		return nil, fmt.Errorf("%w: at most %d options are allowed", apperr.ErrValidation, MaxOptions)
	}

	out := make([]types.Option, len(opts))
	seen := make(map[string]struct{}, len(opts))
	for i, o := range opts {
		label := strings.TrimSpace(norm.NFC.String(o.Label))
		if label == "" {
			return nil, fmt.Errorf("%w: option %d has an empty label", apperr.ErrValidation, i+1)
		}
		if utf8.RuneCountInString(label) > MaxLabelLength {
			return nil, fmt.Errorf("%w: option %d label is longer than %d characters", apperr.ErrValidation, i+1, MaxLabelLength)
		}
		if !(o.Weight > 0) || math.IsInf(o.Weight, 0) {
			return nil, fmt.Errorf("%w: option %q must have a positive weight", apperr.ErrValidation, label)
		}
		if o.Weight > MaxWeight {
			return nil, fmt.Errorf("%w: option %q weight exceeds %d", apperr.ErrValidation, label, MaxWeight)
		}

		color := strings.ToLower(strings.TrimSpace(o.Color))
		if color == "" {
			color = Palette[i%len(Palette)]
		} else if !isHexColor(color) {
			return nil, fmt.Errorf("%w: option %q has invalid color %q", apperr.ErrValidation, label, o.Color)
		}

		id := strings.TrimSpace(o.ID)
		if id == "" {
			id = uuid.NewString()
		} else if len(id) > MaxIDLength {
			return nil, fmt.Errorf("%w: option %q id is longer than %d bytes", apperr.ErrValidation, label, MaxIDLength)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate option id %q", apperr.ErrValidation, id)
		}
		seen[id] = struct{}{}

		out[i] = types.Option{ID: id, Label: label, Color: color, Weight: o.Weight}
	}
	return out, nil
}

func Weights(opts []types.Option) []fairness.Weighted {
	w := make([]fairness.Weighted, len(opts))
	for i, o := range opts {
		w[i] = fairness.Weighted{ID: o.ID, Weight: o.Weight}
	}
	return w
}

func Find(opts []types.Option, id string) (types.Option, bool) {
	for _, o := range opts {
		if o.ID == id {
			return o, true
		}
	}
	return types.Option{}, false
}

func Clone(opts []types.Option) []types.Option {
	if opts == nil {
		return nil
	}
	out := make([]types.Option, len(opts))
	copy(out, opts)
	return out
}

// isHexColor accepts #rgb and #rrggbb.
func isHexColor(s string) bool {
	if len(s) != 4 && len(s) != 7 {
		return false
	}
	if s[0] != '#' {
		return false
	}
	for _, c := range s[1:] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
