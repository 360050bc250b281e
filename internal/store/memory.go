package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DoyleJ11/spin-rooms/internal/fairness"
	"github.com/DoyleJ11/spin-rooms/internal/wheel"
)

// MemoryStore keeps everything in process. It backs the server when no
// database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	rooms  map[string]RoomRecord
	wheels map[string]Wheel
	spins  []fairness.SpinRecord
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:  make(map[string]RoomRecord),
		wheels: make(map[string]Wheel),
		now:    time.Now,
	}
}

func (m *MemoryStore) CreateRoom(_ context.Context, code, hostName string) (RoomRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[code]; ok {
		return RoomRecord{}, ErrDuplicate
	}
	rec := RoomRecord{Code: code, HostName: hostName, Active: true, CreatedAt: m.now().UTC()}
	m.rooms[code] = rec
	return rec, nil
}

func (m *MemoryStore) FindRoomByCode(_ context.Context, code string) (RoomRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.rooms[code]
	if !ok {
		return RoomRecord{}, ErrNotFound
	}
	var latest *Wheel
	for _, w := range m.wheels {
		if w.RoomCode != code {
			continue
		}
		if latest == nil || w.CreatedAt.After(latest.CreatedAt) {
			w := w
			latest = &w
		}
	}
	if latest != nil {
		rec.Options = wheel.Clone(latest.Options)
	}
	return rec, nil
}

func (m *MemoryStore) CloseRoom(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rooms[code]
	if !ok {
		return ErrNotFound
	}
	if !rec.Active {
		return nil
	}
	now := m.now().UTC()
	rec.Active = false
	rec.ClosedAt = &now
	m.rooms[code] = rec
	return nil
}

func (m *MemoryStore) CreateWheel(_ context.Context, w Wheel) (Wheel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if _, ok := m.wheels[w.ID]; ok {
		return Wheel{}, ErrDuplicate
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = m.now().UTC()
	}
	w.Options = wheel.Clone(w.Options)
	m.wheels[w.ID] = w
	return w, nil
}

func (m *MemoryStore) FindWheel(_ context.Context, id string) (Wheel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wheels[id]
	if !ok {
		return Wheel{}, ErrNotFound
	}
	w.Options = wheel.Clone(w.Options)
	return w, nil
}

func (m *MemoryStore) ListWheels(_ context.Context, limit int) ([]Wheel, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	out := make([]Wheel, 0, len(m.wheels))
	for _, w := range m.wheels {
		w.Options = wheel.Clone(w.Options)
		out = append(out, w)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Wheel) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateSpinRecord(_ context.Context, rec fairness.SpinRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.spins {
		if s.ID == rec.ID {
			return ErrDuplicate
		}
		if rec.WheelID != "" && s.WheelID == rec.WheelID && s.Nonce == rec.Nonce {
			return ErrDuplicate
		}
	}
	m.spins = append(m.spins, rec)
	return nil
}

func (m *MemoryStore) LastNonce(_ context.Context, wheelID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last uint64
	for _, s := range m.spins {
		if s.WheelID == wheelID {
			last = max(last, s.Nonce)
		}
	}
	return last, nil
}

func (m *MemoryStore) ListSpins(_ context.Context, wheelID string, limit int) ([]fairness.SpinRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]fairness.SpinRecord, 0, min(limit, len(m.spins)))
	// spins is append-only, so walking backwards is newest first
	for i := len(m.spins) - 1; i >= 0 && len(out) < limit; i-- {
		if wheelID != "" && m.spins[i].WheelID != wheelID {
			continue
		}
		out = append(out, m.spins[i])
	}
	return slices.Clip(out), nil
}

func (m *MemoryStore) Close() error { return nil }
