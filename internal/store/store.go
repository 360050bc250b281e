// Package store persists rooms, wheels and spin records. Live room state
// never lives here; the room actors own it and report facts through Recorder.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/spin-rooms/internal/apperr"
	"github.com/DoyleJ11/spin-rooms/internal/fairness"
	"github.com/DoyleJ11/spin-rooms/pkg/types"
)

var (
	ErrNotFound  = fmt.Errorf("%w: no such record", apperr.ErrNotFound)
	ErrDuplicate = errors.New("duplicate record")
)

type RoomRecord struct {
	Code      string
	HostName  string
	Active    bool
	CreatedAt time.Time
	ClosedAt  *time.Time
	// Options holds the room's most recent wheel, if one was stored.
	Options []types.Option
}

type Wheel struct {
	ID        string
	RoomCode  string // empty for standalone wheels
	Options   []types.Option
	CreatedAt time.Time
}

type Store interface {
	CreateRoom(ctx context.Context, code, hostName string) (RoomRecord, error)
	FindRoomByCode(ctx context.Context, code string) (RoomRecord, error)
	CloseRoom(ctx context.Context, code string) error
	CreateWheel(ctx context.Context, w Wheel) (Wheel, error)
	FindWheel(ctx context.Context, id string) (Wheel, error)
	// ListWheels returns newest first.
	ListWheels(ctx context.Context, limit int) ([]Wheel, error)
	// CreateSpinRecord fails with ErrDuplicate when the id or the
	// (wheel, nonce) pair is already taken.
	CreateSpinRecord(ctx context.Context, rec fairness.SpinRecord) error
	// LastNonce is the highest nonce recorded for a wheel, 0 if none.
	LastNonce(ctx context.Context, wheelID string) (uint64, error)
	// ListSpins returns newest first. An empty wheelID lists every wheel.
	ListSpins(ctx context.Context, wheelID string, limit int) ([]fairness.SpinRecord, error)
	Close() error
}
