package directory

import (
	"errors"
	"sync"
)

var ErrAlreadyBound = errors.New("connection already bound to a room")

// Record is what the transport needs to authorize a connection's actions
// without the client re-sending its identity.
type Record struct {
	ConnID      string
	DisplayName string
	RoomCode    string
	IsOwner     bool
}

type Directory struct {
	mu    sync.RWMutex
	conns map[string]Record
}

func New() *Directory {
	return &Directory{conns: make(map[string]Record)}
}

// Bind records the room a connection joined. IsOwner is whatever the room
// reported on join and is not changed afterwards.
func (d *Directory) Bind(connID, code, name string, isOwner bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.conns[connID]; ok {
		return ErrAlreadyBound
	}
	d.conns[connID] = Record{ConnID: connID, DisplayName: name, RoomCode: code, IsOwner: isOwner}
	return nil
}

func (d *Directory) Lookup(connID string) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.conns[connID]
	return rec, ok
}

// Unbind removes and returns the record; unbinding an unknown connection is a no-op.
func (d *Directory) Unbind(connID string) (Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.conns[connID]
	delete(d.conns, connID)
	return rec, ok
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns)
}
