package hub

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/spin-rooms/internal/room"
	"github.com/DoyleJ11/spin-rooms/pkg/types"
)

var ErrHubClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

// EnsureRoom is find-or-create. Seed is only used when a room is created.
type EnsureRoom struct {
	Code  string
	Seed  []types.Option
	Reply chan *room.Room
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room // nil when absent
}

// RemoveRoom drops Code only while it still maps to Room, so a late removal
// never deletes a newer room under a reused code.
type RemoveRoom struct {
	Code string
	Room *room.Room
}

type NewCode struct {
	Reply chan CodeResult
}

type CodeResult struct {
	Code string
	Err  error
}

type CountRooms struct {
	Reply chan int
}

type ShutdownHub struct{}

func (EnsureRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (NewCode) isHubMsg()     {}
func (CountRooms) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Options struct {
	Recorder room.Recorder
	EmptyTTL time.Duration
	// GenerateCode overrides the random code source.
	GenerateCode func() (string, error)
	Logger       *zap.Logger
}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	log    *zap.Logger
	opts   Options
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.GenerateCode == nil {
		opts.GenerateCode = GenerateCode
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    opts.Logger.Named("hub"),
		opts:   opts,
	}
	go h.loop()
	return h
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureRoom:
				if rm := h.rooms[msg.Code]; rm != nil && !rm.Closed() {
					msg.Reply <- rm
					break
				}
				rm := h.newRoom(msg.Code, msg.Seed)
				h.rooms[msg.Code] = rm
				msg.Reply <- rm

			case GetRoom:
				rm := h.rooms[msg.Code]
				if rm != nil && rm.Closed() {
					rm = nil
				}
				msg.Reply <- rm // May be nil

			case RemoveRoom:
				if h.rooms[msg.Code] == msg.Room {
					delete(h.rooms, msg.Code)
					h.log.Debug("room removed", zap.String("room", msg.Code), zap.Int("rooms", len(h.rooms)))
				}

			case NewCode:
				code, err := h.uniqueCode()
				msg.Reply <- CodeResult{Code: code, Err: err}

			case CountRooms:
				msg.Reply <- len(h.rooms)

			case ShutdownHub:
				h.closeAll()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) newRoom(code string, seed []types.Option) *room.Room {
	h.log.Info("room created", zap.String("room", code))
	return room.NewRoom(h.ctx, code, room.Config{
		Options:  seed,
		Recorder: h.opts.Recorder,
		EmptyTTL: h.opts.EmptyTTL,
		Logger:   h.opts.Logger,
		OnClose: func(rm *room.Room) {
			h.Remove(code, rm)
		},
	})
}

func (h *Hub) closeAll() {
	for _, rm := range h.rooms {
		rm.Close("server shutting down")
	}
	clear(h.rooms)
}

// Ensure returns the live room for code, creating it from seed if needed.
func (h *Hub) Ensure(ctx context.Context, code string, seed []types.Option) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	if err := h.send(ctx, EnsureRoom{Code: code, Seed: seed, Reply: reply}); err != nil {
		return nil, err
	}
	return recv(ctx, h, reply)
}

func (h *Hub) Get(ctx context.Context, code string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	if err := h.send(ctx, GetRoom{Code: code, Reply: reply}); err != nil {
		return nil, err
	}
	return recv(ctx, h, reply)
}

// Remove is idempotent and safe to call from a room's own goroutine.
func (h *Hub) Remove(code string, rm *room.Room) {
	select {
	case h.inbox <- RemoveRoom{Code: code, Room: rm}:
	case <-h.done:
	}
}

// NewCode returns a code that no active room uses. It does not reserve it.
func (h *Hub) NewCode(ctx context.Context) (string, error) {
	reply := make(chan CodeResult, 1)
	if err := h.send(ctx, NewCode{Reply: reply}); err != nil {
		return "", err
	}
	res, err := recv(ctx, h, reply)
	if err != nil {
		return "", err
	}
	return res.Code, res.Err
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.send(ctx, CountRooms{Reply: reply}); err != nil {
		return 0, err
	}
	return recv(ctx, h, reply)
}

// Shutdown closes every room and stops the hub. It returns once the hub loop
// has exited.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
	<-h.done
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recv[T any](ctx context.Context, h *Hub, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-h.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrHubClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
