package hub

import (
	"crypto/rand"
	"errors"
	"math/big"

	"go.uber.org/zap"

	"github.com/DoyleJ11/spin-rooms/internal/room"
)

var ErrCodeSpaceExhausted = errors.New("could not find a free room code")

// maxCodeAttempts bounds regeneration when the active set is crowded.
const maxCodeAttempts = 1000

func GenerateCode() (string, error) {
	code := make([]byte, room.CodeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(room.CodeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = room.CodeAlphabet[num.Int64()]
	}
	return string(code), nil
}

// uniqueCode runs on the hub goroutine, so the rooms map is stable while it
// looks for a free code.
func (h *Hub) uniqueCode() (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		c, err := h.opts.GenerateCode()
		if err != nil {
			return "", err
		}
		if rm := h.rooms[c]; rm == nil || rm.Closed() {
			return c, nil
		}
		h.log.Debug("collision on code, regenerating", zap.String("code", c))
	}
	return "", ErrCodeSpaceExhausted
}
