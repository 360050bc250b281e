package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/spin-rooms/internal/apperr"
	"github.com/DoyleJ11/spin-rooms/internal/room"
	"github.com/DoyleJ11/spin-rooms/internal/store"
	itypes "github.com/DoyleJ11/spin-rooms/internal/types"
	"github.com/DoyleJ11/spin-rooms/pkg/types"
)

var (
	errMalformed   = fmt.Errorf("%w: malformed message", apperr.ErrValidation)
	errNotJoined   = fmt.Errorf("%w: join a room first", apperr.ErrUnauthorized)
	errRateLimited = fmt.Errorf("%w: too many actions, slow down", apperr.ErrRateLimited)
	errRoomGone    = fmt.Errorf("%w: room is closed", apperr.ErrNotFound)
)

// session is one connection's view of the world. Everything except out and
// kick is owned by the reader goroutine.
type session struct {
	id      string
	srv     *Server
	out     chan itypes.ServerMessage
	kick    context.CancelFunc
	limiter *rate.Limiter
	log     *zap.Logger
	room    *room.Room
}

func (s *session) from() room.From {
	return room.From{ConnID: s.id, Outbox: s.out}
}

func (s *session) handle(ctx context.Context, cm itypes.ClientMessage) {
	switch cm.Type {
	case types.EvtJoin:
		var p types.JoinRequest
		if !s.decode(cm, &p) {
			return
		}
		if err := s.join(ctx, p); err != nil {
			s.reject(err)
		}

	case types.EvtLeave:
		s.detach("leave")

	case types.EvtChat:
		var p types.ChatRequest
		if !s.decode(cm, &p) || !s.allow() {
			return
		}
		s.toRoom(ctx, room.Chat{From: s.from(), Message: p.Message})

	case types.EvtTyping:
		var p types.TypingRequest
		if !s.decode(cm, &p) {
			return
		}
		// typing indicators are best effort; excess ones are dropped quietly
		if !s.limiter.Allow() {
			return
		}
		s.toRoom(ctx, room.Typing{From: s.from(), Active: p.Active})

	case types.EvtUpdateOptions:
		var p types.UpdateOptionsRequest
		if !s.decode(cm, &p) || !s.allow() {
			return
		}
		s.toRoom(ctx, room.UpdateOptions{From: s.from(), Options: p.Options})

	case types.EvtSpinStart:
		var p types.SpinStartRequest
		if !s.decode(cm, &p) || !s.allow() {
			return
		}
		s.toRoom(ctx, room.SpinStart{From: s.from(), Hints: p.VisualHints, ClientSeed: p.ClientSeed})

	case types.EvtSpinResult:
		var p types.SpinResultRequest
		if !s.decode(cm, &p) {
			return
		}
		s.toRoom(ctx, room.SpinResult{From: s.from(), SelectedLabel: p.SelectedLabel})

	default:
		s.reject(fmt.Errorf("%w: unknown message type %q", apperr.ErrValidation, cm.Type))
	}
}

func (s *session) decode(cm itypes.ClientMessage, dst any) bool {
	if len(cm.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(cm.Payload, dst); err != nil {
		s.reject(errMalformed)
		return false
	}
	return true
}

func (s *session) allow() bool {
	if s.limiter.Allow() {
		return true
	}
	s.reject(errRateLimited)
	return false
}

func (s *session) join(ctx context.Context, p types.JoinRequest) error {
	if _, ok := s.current(); ok {
		return fmt.Errorf("%w: already in a room, leave it first", apperr.ErrValidation)
	}
	code, err := room.NormalizeCode(p.RoomCode)
	if err != nil {
		return err
	}
	name, err := room.NormalizeName(p.DisplayName)
	if err != nil {
		return err
	}

	// The room can close between lookup and join; try once more against a
	// fresh one before giving up.
	for attempt := 0; ; attempt++ {
		rm, err := s.resolve(ctx, code, p.ClaimOwner)
		if err != nil {
			return err
		}
		res, err := s.enter(ctx, rm, name, p.ClaimOwner)
		switch {
		case errors.Is(err, room.ErrRoomClosed) && attempt == 0:
			continue
		case errors.Is(err, room.ErrRoomClosed):
			return errRoomGone
		case err != nil:
			return fmt.Errorf("%w: join: %v", apperr.ErrInternal, err)
		case res.Err != nil:
			// already reported on the outbox by the room
			return nil
		}

		if err := s.srv.opts.Directory.Bind(s.id, code, name, res.IsOwner); err != nil {
			s.abandon(rm)
			return fmt.Errorf("%w: %v", apperr.ErrInternal, err)
		}
		s.room = rm
		s.log.Info("joined room", zap.String("room", code), zap.String("name", name), zap.Bool("owner", res.IsOwner))
		return nil
	}
}

// enter joins rm. When the wait is cut short the room may still admit the
// connection, so it is told to drop it again.
func (s *session) enter(ctx context.Context, rm *room.Room, name string, claimOwner bool) (room.JoinResult, error) {
	res, err := rm.Join(ctx, room.Join{
		From:       s.from(),
		Name:       name,
		ClaimOwner: claimOwner,
		Kick:       s.kick,
	})
	if err != nil && !errors.Is(err, room.ErrRoomClosed) {
		s.abandon(rm)
	}
	return res, err
}

// abandon removes this connection from rm without a directory binding.
func (s *session) abandon(rm *room.Room) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rm.Send(ctx, room.Leave{ConnID: s.id}); err != nil && !errors.Is(err, room.ErrRoomClosed) {
		s.log.Warn("leave not delivered", zap.String("room", rm.Code()), zap.Error(err))
	}
}

// resolve finds the live room for code. Without an owner claim, a room is
// only opened when the store knows the code, and its last wheel is reused.
func (s *session) resolve(ctx context.Context, code string, claimOwner bool) (*room.Room, error) {
	h := s.srv.opts.Hub
	rm, err := h.Get(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInternal, err)
	}
	if rm != nil {
		return rm, nil
	}

	var seed []types.Option
	rec, err := s.srv.opts.Store.FindRoomByCode(ctx, code)
	switch {
	case err == nil && rec.Active:
		seed = rec.Options
	case err == nil, errors.Is(err, store.ErrNotFound):
		if !claimOwner {
			return nil, fmt.Errorf("%w: room %s does not exist", apperr.ErrNotFound, code)
		}
	default:
		s.log.Warn("room lookup failed", zap.String("room", code), zap.Error(err))
		if !claimOwner {
			return nil, fmt.Errorf("%w: could not look up room", apperr.ErrInternal)
		}
	}

	rm, err = h.Ensure(ctx, code, seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInternal, err)
	}
	return rm, nil
}

// current returns the room this connection is bound to, dropping a binding
// whose room has since closed.
func (s *session) current() (*room.Room, bool) {
	dir := s.srv.opts.Directory
	if _, ok := dir.Lookup(s.id); !ok || s.room == nil {
		s.room = nil
		return nil, false
	}
	if s.room.Closed() {
		dir.Unbind(s.id)
		s.room = nil
		return nil, false
	}
	return s.room, true
}

func (s *session) toRoom(ctx context.Context, m room.Msg) {
	rm, ok := s.current()
	if !ok {
		s.reject(errNotJoined)
		return
	}
	err := rm.Send(ctx, m)
	switch {
	case errors.Is(err, room.ErrRoomClosed):
		s.srv.opts.Directory.Unbind(s.id)
		s.room = nil
		s.reject(errRoomGone)
	case err != nil:
		s.log.Debug("action not delivered", zap.Error(err))
	}
}

// detach leaves the current room, if any.
func (s *session) detach(why string) {
	rec, bound := s.srv.opts.Directory.Unbind(s.id)
	rm := s.room
	s.room = nil
	if !bound || rm == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rm.Send(ctx, room.Leave{ConnID: s.id}); err != nil && !errors.Is(err, room.ErrRoomClosed) {
		s.log.Warn("leave not delivered", zap.String("room", rec.RoomCode), zap.Error(err))
	}
	s.log.Info("left room", zap.String("room", rec.RoomCode), zap.String("reason", why))
}

func (s *session) reject(err error) {
	msg := itypes.ServerMessage{Type: types.EvtActionRejected, Payload: types.ActionRejected{
		Code:   apperr.Code(err),
		Reason: err.Error(),
	}}
	select {
	case s.out <- msg:
	default:
		s.log.Debug("dropped rejection for slow connection", zap.Error(err))
	}
}
