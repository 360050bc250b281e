package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/spin-rooms/internal/config"
	"github.com/DoyleJ11/spin-rooms/internal/directory"
	"github.com/DoyleJ11/spin-rooms/internal/httpapi"
	"github.com/DoyleJ11/spin-rooms/internal/hub"
	"github.com/DoyleJ11/spin-rooms/internal/logging"
	"github.com/DoyleJ11/spin-rooms/internal/store"
	"github.com/DoyleJ11/spin-rooms/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	// The recorder outlives the rooms so their final writes are flushed.
	recCtx, recCancel := context.WithCancel(context.Background())
	defer recCancel()
	recorder := store.NewRecorder(st, cfg.RecorderQueue, log)
	recDone := make(chan error, 1)
	go func() { recDone <- recorder.Run(recCtx) }()

	h := hub.NewHub(context.Background(), hub.Options{
		Recorder: recorder,
		EmptyTTL: cfg.RoomEmptyTTL,
		Logger:   log,
	})
	wsSrv := ws.NewServer(ws.Options{
		Hub:            h,
		Directory:      directory.New(),
		Store:          st,
		Logger:         log,
		AllowedOrigins: cfg.AllowedOrigins,
		ReadTimeout:    cfg.WSReadTimeout,
		PingInterval:   cfg.WSPingInterval,
		ChatRate:       cfg.ChatRate,
		ChatBurst:      cfg.ChatBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(httpapi.Deps{Hub: h, Store: st, WS: wsSrv, Logger: log}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// rooms first, so members get room-closed before their sockets drop
		h.Shutdown()
		shutErr := srv.Shutdown(shutCtx)

		recCancel()
		select {
		case rerr := <-recDone:
			shutErr = multierr.Append(shutErr, rerr)
		case <-shutCtx.Done():
			shutErr = multierr.Append(shutErr, fmt.Errorf("recorder flush: %w", shutCtx.Err()))
		}
		return shutErr
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, rooms and spins are kept in memory")
		return store.NewMemoryStore(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	st, err := store.NewGormStore(connectCtx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
