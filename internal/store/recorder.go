package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/spin-rooms/internal/fairness"
	"github.com/DoyleJ11/spin-rooms/internal/wheel"
	"github.com/DoyleJ11/spin-rooms/pkg/types"
)

const (
	DefaultRecorderQueue = 256
	defaultJobTimeout    = 5 * time.Second
)

type job struct {
	name string
	code string
	run  func(ctx context.Context, s Store) error
}

// Recorder moves store writes off the room goroutines. Enqueueing never
// blocks: when the queue is full the write is dropped and logged.
type Recorder struct {
	store   Store
	jobs    chan job
	timeout time.Duration
	log     *zap.Logger
}

func NewRecorder(s Store, queue int, log *zap.Logger) *Recorder {
	if queue <= 0 {
		queue = DefaultRecorderQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		store:   s,
		jobs:    make(chan job, queue),
		timeout: defaultJobTimeout,
		log:     log.Named("recorder"),
	}
}

// Run processes jobs until ctx is cancelled, then flushes what is already
// queued before returning.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case j := <-r.jobs:
			r.do(context.WithoutCancel(ctx), j)
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	for {
		select {
		case j := <-r.jobs:
			r.do(ctx, j)
		default:
			return
		}
	}
}

func (r *Recorder) do(parent context.Context, j job) {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()
	if err := j.run(ctx, r.store); err != nil {
		if errors.Is(err, ErrNotFound) {
			r.log.Debug("nothing to update", zap.String("job", j.name), zap.String("room", j.code))
			return
		}
		r.log.Warn("store write failed", zap.String("job", j.name), zap.String("room", j.code), zap.Error(err))
	}
}

func (r *Recorder) enqueue(j job) {
	select {
	case r.jobs <- j:
	default:
		r.log.Warn("recorder queue full, dropping write", zap.String("job", j.name), zap.String("room", j.code))
	}
}

func (r *Recorder) WheelCreated(code, wheelID string, options []types.Option) {
	w := Wheel{ID: wheelID, RoomCode: code, Options: wheel.Clone(options), CreatedAt: time.Now().UTC()}
	r.enqueue(job{name: "create_wheel", code: code, run: func(ctx context.Context, s Store) error {
		_, err := s.CreateWheel(ctx, w)
		return err
	}})
}

func (r *Recorder) SpinFinished(rec fairness.SpinRecord) {
	r.enqueue(job{name: "create_spin", code: rec.RoomCode, run: func(ctx context.Context, s Store) error {
		return s.CreateSpinRecord(ctx, rec)
	}})
}

// RoomClosed marks the stored room inactive. Rooms opened directly over the
// socket were never stored, so a missing record is expected.
func (r *Recorder) RoomClosed(code string) {
	r.enqueue(job{name: "close_room", code: code, run: func(ctx context.Context, s Store) error {
		return s.CloseRoom(ctx, code)
	}})
}
