package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/spin-rooms/internal/apperr"
	"github.com/DoyleJ11/spin-rooms/internal/fairness"
	"github.com/DoyleJ11/spin-rooms/internal/hub"
	"github.com/DoyleJ11/spin-rooms/internal/room"
	"github.com/DoyleJ11/spin-rooms/internal/store"
	"github.com/DoyleJ11/spin-rooms/internal/wheel"
	"github.com/DoyleJ11/spin-rooms/pkg/types"
)

const (
	defaultListLimit  = 50
	maxListLimit      = 200
	maxCreateAttempts = 5
	maxBodyBytes      = 64 << 10
)

type roomView struct {
	Code         string         `json:"code"`
	HostName     string         `json:"hostName,omitempty"`
	Owner        string         `json:"owner"`
	Participants []string       `json:"participants"`
	WheelOptions []types.Option `json:"wheelOptions"`
	Active       bool           `json:"active"`
}

type optionView struct {
	types.Option
	Probability float64 `json:"probability"`
}

type wheelView struct {
	ID        string       `json:"id"`
	RoomCode  string       `json:"roomCode,omitempty"`
	Options   []optionView `json:"options"`
	CreatedAt time.Time    `json:"createdAt"`
}

func newWheelView(w store.Wheel) wheelView {
	total := 0.0
	for _, o := range w.Options {
		total += o.Weight
	}
	opts := make([]optionView, 0, len(w.Options))
	for _, o := range w.Options {
		opts = append(opts, optionView{Option: o, Probability: fairness.Probability(o.Weight, total)})
	}
	return wheelView{ID: w.ID, RoomCode: w.RoomCode, Options: opts, CreatedAt: w.CreatedAt}
}

type spinView struct {
	ID           string    `json:"id"`
	RoomCode     string    `json:"roomCode"`
	WheelID      string    `json:"wheelId"`
	Spinner      string    `json:"spinner"`
	ServerSeed   string    `json:"serverSeed"`
	ClientSeed   string    `json:"clientSeed"`
	Nonce        uint64    `json:"nonce"`
	CombinedHash string    `json:"combinedHash"`
	ResultValue  float64   `json:"resultValue"`
	OptionID     string    `json:"optionId"`
	OptionLabel  string    `json:"optionLabel"`
	CreatedAt    time.Time `json:"createdAt"`
}

func CreateRoom(h *hub.Hub, st store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			HostName string `json:"hostName"`
		}
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, log, err)
			return
		}
		host, err := room.NormalizeName(body.HostName)
		if err != nil {
			writeError(w, log, err)
			return
		}

		for attempt := 0; attempt < maxCreateAttempts; attempt++ {
			code, err := h.NewCode(r.Context())
			if err != nil {
				writeError(w, log, fmt.Errorf("%w: generate room code: %v", apperr.ErrInternal, err))
				return
			}
			// NewCode only knows live rooms; the store may still hold the code
			rec, err := st.CreateRoom(r.Context(), code, host)
			if errors.Is(err, store.ErrDuplicate) {
				log.Debug("collision on code, regenerating", zap.String("code", code))
				continue
			}
			if err != nil {
				writeError(w, log, fmt.Errorf("%w: create room: %v", apperr.ErrInternal, err))
				return
			}
			log.Info("room registered", zap.String("room", rec.Code), zap.String("host", rec.HostName))
			writeJSON(w, http.StatusCreated, map[string]string{
				"code":     rec.Code,
				"hostName": rec.HostName,
				"joinPath": "/room/" + rec.Code,
			})
			return
		}
		writeError(w, log, fmt.Errorf("%w: could not allocate a room code", apperr.ErrInternal))
	}
}

// GetRoom prefers the live room; a stored record answers when no process
// state exists yet.
func GetRoom(h *hub.Hub, st store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := room.NormalizeCode(chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, log, err)
			return
		}

		rm, err := h.Get(r.Context(), code)
		if err != nil {
			writeError(w, log, fmt.Errorf("%w: %v", apperr.ErrInternal, err))
			return
		}
		if rm != nil {
			v, err := rm.View(r.Context())
			if err == nil {
				writeJSON(w, http.StatusOK, roomView{
					Code:         v.Code,
					Owner:        v.Owner,
					Participants: v.Participants,
					WheelOptions: v.Options,
					Active:       true,
				})
				return
			}
			if !errors.Is(err, room.ErrRoomClosed) {
				writeError(w, log, fmt.Errorf("%w: %v", apperr.ErrInternal, err))
				return
			}
		}

		rec, err := st.FindRoomByCode(r.Context(), code)
		if err != nil {
			writeError(w, log, err)
			return
		}
		if !rec.Active {
			writeJSON(w, http.StatusGone, map[string]string{"error": "room is closed"})
			return
		}
		opts := rec.Options
		if len(opts) == 0 {
			opts = wheel.Default()
		}
		writeJSON(w, http.StatusOK, roomView{
			Code:         rec.Code,
			HostName:     rec.HostName,
			Participants: []string{},
			WheelOptions: opts,
			Active:       true,
		})
	}
}

func CreateWheel(st store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RoomCode string         `json:"roomCode"`
			Options  []types.Option `json:"options"`
		}
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, log, err)
			return
		}
		opts, err := wheel.Normalize(body.Options)
		if err != nil {
			writeError(w, log, err)
			return
		}
		in := store.Wheel{Options: opts}
		if body.RoomCode != "" {
			if in.RoomCode, err = room.NormalizeCode(body.RoomCode); err != nil {
				writeError(w, log, err)
				return
			}
		}

		wh, err := st.CreateWheel(r.Context(), in)
		if err != nil {
			writeError(w, log, fmt.Errorf("%w: create wheel: %v", apperr.ErrInternal, err))
			return
		}
		writeJSON(w, http.StatusCreated, newWheelView(wh))
	}
}

func ListWheels(st store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := listLimit(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		wheels, err := st.ListWheels(r.Context(), limit)
		if err != nil {
			writeError(w, log, fmt.Errorf("%w: list wheels: %v", apperr.ErrInternal, err))
			return
		}
		out := make([]wheelView, 0, len(wheels))
		for _, wh := range wheels {
			out = append(out, newWheelView(wh))
		}
		writeJSON(w, http.StatusOK, map[string]any{"wheels": out})
	}
}

// CreateSpin spins a standalone wheel. The server seed is revealed in the
// response since no one watches the spin in advance. Wheels that belong to a
// room are spun through the room.
func CreateSpin(st store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			WheelID    string `json:"wheelId"`
			ClientSeed string `json:"clientSeed"`
		}
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, log, err)
			return
		}
		if _, err := uuid.Parse(body.WheelID); err != nil {
			writeError(w, log, fmt.Errorf("%w: wheelId must be a wheel id", apperr.ErrValidation))
			return
		}

		wh, err := st.FindWheel(r.Context(), body.WheelID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, log, err)
			return
		}
		if err != nil {
			writeError(w, log, fmt.Errorf("%w: find wheel: %v", apperr.ErrInternal, err))
			return
		}
		if wh.RoomCode != "" {
			writeError(w, log, fmt.Errorf("%w: wheel belongs to room %s, spin it there", apperr.ErrSequence, wh.RoomCode))
			return
		}

		serverSeed, err := fairness.GenerateSeed()
		if err != nil {
			writeError(w, log, fmt.Errorf("%w: server seed: %v", apperr.ErrInternal, err))
			return
		}
		clientSeed, err := fairness.DeriveClientSeed(body.ClientSeed)
		if err != nil {
			writeError(w, log, fmt.Errorf("%w: client seed: %v", apperr.ErrInternal, err))
			return
		}

		for attempt := 0; attempt < maxCreateAttempts; attempt++ {
			last, err := st.LastNonce(r.Context(), wh.ID)
			if err != nil {
				writeError(w, log, fmt.Errorf("%w: last nonce: %v", apperr.ErrInternal, err))
				return
			}
			out, err := fairness.Spin(serverSeed, clientSeed, last+1, wheel.Weights(wh.Options))
			if err != nil {
				writeError(w, log, fmt.Errorf("%w: spin: %v", apperr.ErrInternal, err))
				return
			}
			opt, _ := wheel.Find(wh.Options, out.OptionID)
			rec := fairness.SpinRecord{
				ID:           uuid.NewString(),
				WheelID:      wh.ID,
				ServerSeed:   out.ServerSeed,
				ClientSeed:   out.ClientSeed,
				Nonce:        out.Nonce,
				CombinedHash: out.CombinedHash,
				ResultValue:  out.ResultValue,
				OptionID:     opt.ID,
				OptionLabel:  opt.Label,
				CreatedAt:    time.Now().UTC(),
			}
			err = st.CreateSpinRecord(r.Context(), rec)
			if errors.Is(err, store.ErrDuplicate) {
				// a concurrent spin took this nonce
				continue
			}
			if err != nil {
				writeError(w, log, fmt.Errorf("%w: record spin: %v", apperr.ErrInternal, err))
				return
			}
			log.Info("standalone spin", zap.String("wheel", wh.ID), zap.Uint64("nonce", rec.Nonce), zap.String("option", rec.OptionLabel))
			writeJSON(w, http.StatusCreated, spinView(rec))
			return
		}
		writeError(w, log, fmt.Errorf("%w: could not allocate a nonce", apperr.ErrInternal))
	}
}

func ListSpins(st store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := listLimit(r)
		if err != nil {
			writeError(w, log, err)
			return
		}

		recs, err := st.ListSpins(r.Context(), r.URL.Query().Get("wheelId"), limit)
		if err != nil {
			writeError(w, log, fmt.Errorf("%w: list spins: %v", apperr.ErrInternal, err))
			return
		}
		out := make([]spinView, 0, len(recs))
		for _, s := range recs {
			out = append(out, spinView(s))
		}
		writeJSON(w, http.StatusOK, map[string]any{"spins": out})
	}
}

// VerifySpin recomputes a published proof. It needs no state.
func VerifySpin(log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p types.SpinProof
		if err := decodeBody(w, r, &p); err != nil {
			writeError(w, log, err)
			return
		}
		if p.ServerSeed == "" || p.ClientSeed == "" || p.CombinedHash == "" {
			writeError(w, log, fmt.Errorf("%w: serverSeed, clientSeed and combinedHash are required", apperr.ErrValidation))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":      fairness.Verify(p.ServerSeed, p.ClientSeed, p.Nonce, p.CombinedHash, p.ResultValue),
			"commitment": fairness.Commit(p.ServerSeed),
		})
	}
}

func Healthz(h *hub.Hub, conns func() int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := h.Count(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"rooms":       n,
			"connections": conns(),
		})
	}
}

func listLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", apperr.ErrValidation)
	}
	return min(n, maxListLimit), nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body", apperr.ErrValidation)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
