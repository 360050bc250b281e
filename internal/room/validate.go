package room

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/spin-rooms/internal/apperr"
	"github.com/DoyleJ11/spin-rooms/pkg/types"
)

const (
	CodeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CodeLength     = 6
	MaxNameLength  = 32
	MaxChatLength  = 500
	MaxSpinMillis  = 30_000
	MaxRotation    = 360 * 100
	closedByOwner  = "The room owner has left. The room is now closed."
	closedInternal = "internal error"
	closedShutdown = "server shutting down"
)

// NormalizeCode upper-cases and validates a room code.
func NormalizeCode(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != CodeLength {
		return "", fmt.Errorf("%w: room code must be %d characters", apperr.ErrValidation, CodeLength)
	}
	for i := 0; i < len(c); i++ {
		if strings.IndexByte(CodeAlphabet, c[i]) < 0 {
			return "", fmt.Errorf("%w: room code must be letters and digits", apperr.ErrValidation)
		}
	}
	return c, nil
}

// NormalizeName trims and NFC-normalizes a display name.
func NormalizeName(name string) (string, error) {
	n := strings.TrimSpace(norm.NFC.String(name))
	if n == "" {
		return "", fmt.Errorf("%w: display name is required", apperr.ErrValidation)
	}
	if utf8.RuneCountInString(n) > MaxNameLength {
		return "", fmt.Errorf("%w: display name is longer than %d characters", apperr.ErrValidation, MaxNameLength)
	}
	if strings.IndexFunc(n, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("%w: display name contains control characters", apperr.ErrValidation)
	}
	return n, nil
}

func validateChat(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return fmt.Errorf("%w: message is empty", apperr.ErrValidation)
	}
	if utf8.RuneCountInString(msg) > MaxChatLength {
		return fmt.Errorf("%w: message is longer than %d characters", apperr.ErrValidation, MaxChatLength)
	}
	return nil
}

// validateHints bounds the animation parameters relayed to every member.
func validateHints(h types.VisualHints) error {
	if math.IsNaN(h.Rotation) || h.Rotation < 0 || h.Rotation > MaxRotation {
		return fmt.Errorf("%w: rotation must be between 0 and %d degrees", apperr.ErrValidation, MaxRotation)
	}
	if h.DurationMs < 0 || h.DurationMs > MaxSpinMillis {
		return fmt.Errorf("%w: spin duration must be between 0 and %d ms", apperr.ErrValidation, MaxSpinMillis)
	}
	return nil
}
