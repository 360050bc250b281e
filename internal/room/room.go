package room

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/spin-rooms/internal/fairness"
	itypes "github.com/DoyleJ11/spin-rooms/internal/types"
	"github.com/DoyleJ11/spin-rooms/internal/wheel"
	"github.com/DoyleJ11/spin-rooms/pkg/types"
)

var ErrRoomClosed = errors.New("room closed")

type Lifecycle string

const (
	StateEmpty  Lifecycle = "empty"
	StateActive Lifecycle = "active"
	StateClosed Lifecycle = "closed"
)

const DefaultEmptyTTL = 30 * time.Second

type Msg interface{ isRoomMsg() }

// From identifies the connection an action came from. Rejections go to its
// Outbox only.
type From struct {
	ConnID string
	Outbox chan<- itypes.ServerMessage
}

type Join struct {
	From
	Name       string
	ClaimOwner bool
	// Kick is called when the member is evicted for not draining its outbox.
	Kick  func()
	Reply chan JoinResult
}

func (Join) isRoomMsg() {}

type JoinResult struct {
	IsOwner bool
	Err     error
}

type Leave struct{ ConnID string }

func (Leave) isRoomMsg() {}

type Chat struct {
	From
	Message string
}

func (Chat) isRoomMsg() {}

type Typing struct {
	From
	Active bool
}

func (Typing) isRoomMsg() {}

type UpdateOptions struct {
	From
	Options []types.Option
}

func (UpdateOptions) isRoomMsg() {}

type SpinStart struct {
	From
	Hints      types.VisualHints
	ClientSeed string
}

func (SpinStart) isRoomMsg() {}

type SpinResult struct {
	From
	SelectedLabel string
}

func (SpinResult) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Shutdown struct{ Reason string }

func (Shutdown) isRoomMsg() {}

// View is a consistent copy of the room state, read inside the actor.
type View struct {
	Code         string
	State        Lifecycle
	Owner        string
	OwnerConnID  string
	Participants []string
	Options      []types.Option
	WheelID      string
	Nonce        uint64
	SpinPending  bool
	NumMembers   int
}

// Recorder receives the facts persistence cares about. Implementations must
// not block the caller.
type Recorder interface {
	WheelCreated(code, wheelID string, options []types.Option)
	SpinFinished(rec fairness.SpinRecord)
	RoomClosed(code string)
}

type nopRecorder struct{}

func (nopRecorder) WheelCreated(string, string, []types.Option) {}
func (nopRecorder) SpinFinished(fairness.SpinRecord) {}
func (nopRecorder) RoomClosed(string) {}

type Config struct {
	// Options seeds the wheel; the default wheel is used when empty.
	Options  []types.Option
	Recorder Recorder
	// OnClose runs on the room goroutine after the room reached StateClosed.
	OnClose  func(*Room)
	EmptyTTL time.Duration
	Now      func() time.Time
	Logger   *zap.Logger
}

type member struct {
	connID  string
	name    string
	out     chan<- itypes.ServerMessage
	kick    func()
	evicted bool
}

type Room struct {
	code   string
	inbox  chan Msg
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	recorder Recorder
	onClose  func(*Room)
	emptyTTL time.Duration
	now      func() time.Time

	state     Lifecycle
	owner     string
	ownerConn string
	members   []*member
	options   []types.Option
	wheelID   string
	nonce     uint64
	pending   *fairness.SpinRecord
	evictions []string
}

func NewRoom(parent context.Context, code string, cfg Config) *Room {
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		code:     code,
		inbox:    make(chan Msg, 64), // Small buffer
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		log:      cfg.Logger,
		recorder: cfg.Recorder,
		onClose:  cfg.OnClose,
		emptyTTL: cfg.EmptyTTL,
		now:      cfg.Now,
		state:    StateEmpty,
		options:  wheel.Clone(cfg.Options),
		wheelID:  uuid.NewString(),
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	r.log = r.log.With(zap.String("room", code))
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}
	if r.emptyTTL <= 0 {
		r.emptyTTL = DefaultEmptyTTL
	}
	if r.now == nil {
		r.now = time.Now
	}
	if len(r.options) == 0 {
		r.options = wheel.Default()
	}

	r.recorder.WheelCreated(code, r.wheelID, wheel.Clone(r.options))
	go r.loop()
	return r
}

func (r *Room) Code() string { return r.code }

// Done is closed once the room has stopped processing messages.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) Closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Send queues m for the actor. It fails with ErrRoomClosed instead of
// blocking once the room is gone.
func (r *Room) Send(ctx context.Context, m Msg) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}
	select {
	case r.inbox <- m:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join sends j and waits for the actor's answer.
func (r *Room) Join(ctx context.Context, j Join) (JoinResult, error) {
	if j.Reply == nil {
		j.Reply = make(chan JoinResult, 1)
	}
	if err := r.Send(ctx, j); err != nil {
		return JoinResult{}, err
	}
	select {
	case res := <-j.Reply:
		return res, nil
	case <-r.done:
		select {
		case res := <-j.Reply:
			return res, nil
		default:
			return JoinResult{}, ErrRoomClosed
		}
	case <-ctx.Done():
		return JoinResult{}, ctx.Err()
	}
}

func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.Send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return View{}, ErrRoomClosed
		}
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Close asks the room to shut down, notifying members with reason.
func (r *Room) Close(reason string) {
	select {
	case r.inbox <- Shutdown{Reason: reason}:
	case <-r.done:
	default:
		// inbox full: cancel instead, the loop closes with the shutdown reason
		r.cancel()
	}
}
