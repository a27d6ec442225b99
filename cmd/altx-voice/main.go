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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/trishajanath/AltX-sub003/internal/builderapi"
	"github.com/trishajanath/AltX-sub003/internal/builds"
	"github.com/trishajanath/AltX-sub003/internal/config"
	"github.com/trishajanath/AltX-sub003/internal/httpapi"
	"github.com/trishajanath/AltX-sub003/internal/observability"
	"github.com/trishajanath/AltX-sub003/internal/session"
	"github.com/trishajanath/AltX-sub003/internal/synth"
)

func main() {
	// Local development convenience; absence of .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	buildStore, err := builds.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("build store init failed", zap.Error(err))
	}
	defer buildStore.Close()
	if cfg.DatabaseURL == "" {
		logger.Info("build store: in-memory (DATABASE_URL not set)")
	} else {
		logger.Info("build store: postgres")
	}

	backend, err := builderapi.New(builderapi.Config{
		Mode:          cfg.BackendMode,
		TranscribeURL: cfg.TranscribeURL,
		DialogueURL:   cfg.DialogueURL,
		GenerateURL:   cfg.GenerateURL,
		Timeout:       cfg.BackendTimeout,
	})
	if err != nil {
		logger.Fatal("builder backend init failed", zap.Error(err))
	}
	logger.Info("builder backend ready", zap.String("mode", cfg.BackendMode))

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		logger.Info("session expired", zap.String("session_id", s.ID))
	})

	api := httpapi.New(cfg, sessions, backend, buildStore, synth.NewMockClient(), metrics, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}
