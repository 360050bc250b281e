package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/spin-rooms/internal/hub"
	"github.com/DoyleJ11/spin-rooms/internal/store"
	"github.com/DoyleJ11/spin-rooms/internal/ws"
)

type Deps struct {
	Hub    *hub.Hub
	Store  store.Store
	WS     *ws.Server
	Logger *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/rooms", CreateRoom(d.Hub, d.Store, log))
	r.Get("/rooms/{code}", GetRoom(d.Hub, d.Store, log))
	r.Post("/wheels", CreateWheel(d.Store, log))
	r.Get("/wheels", ListWheels(d.Store, log))
	r.Post("/spins", CreateSpin(d.Store, log))
	r.Get("/spins", ListSpins(d.Store, log))
	r.Post("/spins/verify", VerifySpin(log))
	r.Get("/healthz", Healthz(d.Hub, d.WS.Connections))
	r.Get("/ws", d.WS.ServeHTTP)
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			if r.URL.Path == "/healthz" {
				return
			}
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
