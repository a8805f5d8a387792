package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/note-capture/note-capture/internal/api/http"
	"github.com/note-capture/note-capture/internal/application/capture"
	"github.com/note-capture/note-capture/internal/application/ingest"
	"github.com/note-capture/note-capture/internal/application/statemachine"
	"github.com/note-capture/note-capture/internal/config"
	"github.com/note-capture/note-capture/internal/domain/apitoken"
	"github.com/note-capture/note-capture/internal/domain/event"
	"github.com/note-capture/note-capture/internal/domain/note"
	"github.com/note-capture/note-capture/internal/infrastructure/eventbus"
	"github.com/note-capture/note-capture/internal/infrastructure/postgres"
	"github.com/note-capture/note-capture/internal/infrastructure/sqlite"
	"github.com/note-capture/note-capture/internal/infrastructure/sse"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}
	if cfg.APITokenHash != "" && !apitoken.ValidHash(cfg.APITokenHash) {
		log.Fatalf("config error: API_TOKEN_HASH is not a bcrypt hash")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notes, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer closeStore()

	filter, err := capture.NewFilter(cfg.Workflow.CaptureFilter)
	if err != nil {
		log.Fatalf("workflow error: %v", err)
	}
	policy, err := statemachine.ParsePolicy(cfg.TransitionPolicy)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	initial, _ := cfg.Initial()

	// event plumbing
	bus := eventbus.New("capture", logger)
	dispatcher := statemachine.New(initial, bus, logger,
		statemachine.WithPolicy(policy),
		statemachine.WithDiagnosticsLimit(cfg.DiagnosticsLimit),
		statemachine.WithStateChangeCallback(statemachine.PublishTransitions(ctx, bus)),
	)

	stopped := make(chan struct{})
	session, err := capture.Register(dispatcher, capture.Deps{
		Notes:  notes,
		Filter: filter,
		OnStop: func() {
			dispatcher.Stop()
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("workflow error: %v", err)
	}
	capture.ScheduleKeywords(bus, dispatcher, cfg.Workflow.Keywords, logger)

	sseHub := sse.NewHub()
	detach := sse.Bridge(bus, sseHub, logger)
	defer detach()

	ingestSvc := ingest.NewService(dispatcher, logger)

	// API server
	apiServer := httpapi.NewServer(dispatcher, ingestSvc, notes, session, sseHub, cfg.APITokenHash, logger)

	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// workflow loop
	go func() {
		defer close(stopped)
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("dispatcher exited")
		}
	}()
	dispatcher.Enqueue(event.MustNew(event.TypeSystemInitialized, map[string]any{
		"store":  cfg.StoreDriver,
		"policy": string(policy),
	}, event.WithSource("server")))

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("state", initial.Name()).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown on signal or when the workflow reaches STOP
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-stopped:
		logger.Info().Msg("workflow stopped, shutting down")
	}

	dispatcher.Stop()
	sseHub.Stop()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	_ = httpServer.Shutdown(ctxShutdown)
	cancel()
	<-stopped
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (note.Repository, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info().Str("driver", cfg.StoreDriver).Msg("note store ready")
		return postgres.NewNoteRepository(pool), pool.Close, nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		repo, err := sqlite.NewNoteRepository(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info().Str("driver", cfg.StoreDriver).Str("path", cfg.SQLitePath).Msg("note store ready")
		return repo, func() { _ = db.Close() }, nil
	}
}
