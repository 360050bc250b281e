package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/spin-rooms/internal/directory"
	"github.com/DoyleJ11/spin-rooms/internal/hub"
	"github.com/DoyleJ11/spin-rooms/internal/store"
	itypes "github.com/DoyleJ11/spin-rooms/internal/types"
)

const (
	outboxSize   = 64
	writeTimeout = 5 * time.Second
	maxFrameSize = 64 << 10
)

type Options struct {
	Hub       *hub.Hub
	Directory *directory.Directory
	Store     store.Store
	Logger    *zap.Logger

	// AllowedOrigins are host patterns for cross-origin upgrades. "*" turns
	// the origin check off.
	AllowedOrigins []string
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	ChatRate       float64
	ChatBurst      int
}

// Server upgrades /ws requests and runs one session per connection.
type Server struct {
	opts  Options
	log   *zap.Logger
	conns atomic.Int64
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Directory == nil {
		opts.Directory = directory.New()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 120 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.ChatRate <= 0 {
		opts.ChatRate = 5
	}
	if opts.ChatBurst <= 0 {
		opts.ChatBurst = 10
	}
	return &Server{opts: opts, log: opts.Logger.Named("ws")}
}

// Connections is the number of open sockets.
func (s *Server) Connections() int64 { return s.conns.Load() }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accept := &websocket.AcceptOptions{OriginPatterns: s.opts.AllowedOrigins}
	if slices.Contains(s.opts.AllowedOrigins, "*") {
		accept = &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	conn, err := websocket.Accept(w, r, accept)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	conn.SetReadLimit(maxFrameSize)

	s.conns.Add(1)
	defer s.conns.Add(-1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &session{
		id:      uuid.NewString(),
		srv:     s,
		out:     make(chan itypes.ServerMessage, outboxSize),
		kick:    cancel,
		limiter: rate.NewLimiter(rate.Limit(s.opts.ChatRate), s.opts.ChatBurst),
	}
	sess.log = s.log.With(zap.String("conn", sess.id))
	sess.log.Debug("connection opened", zap.String("remote", r.RemoteAddr))
	defer sess.detach("disconnect")

	go s.writeLoop(ctx, conn, sess)
	go s.pingLoop(ctx, conn, sess)

	// Reader loop
	for {
		readCtx, readCancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
		_, data, err := conn.Read(readCtx)
		readCancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				sess.log.Debug("connection closed by client")
			default:
				sess.log.Debug("read failed", zap.Error(err))
			}
			return
		}

		var cm itypes.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			sess.reject(errMalformed)
			continue
		}
		sess.handle(ctx, cm)
	}
}

// writeLoop is the only goroutine writing data frames to conn.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sess.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				sess.log.Debug("write failed", zap.String("type", msg.Type), zap.Error(err))
				sess.kick()
				return
			}
		}
	}
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn, sess *session) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				sess.log.Debug("ping failed", zap.Error(err))
				sess.kick()
				return
			}
		}
	}
}
