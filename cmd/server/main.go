package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	sentrygo "github.com/getsentry/sentry-go"

	"github.com/watchroom/backend/internal/broker"
	"github.com/watchroom/backend/internal/config"
	"github.com/watchroom/backend/internal/database"
	"github.com/watchroom/backend/internal/db"
	"github.com/watchroom/backend/internal/ledger"
	"github.com/watchroom/backend/internal/logging"
	"github.com/watchroom/backend/internal/router"
	"github.com/watchroom/backend/internal/sentry"
	"github.com/watchroom/backend/internal/session"
	"github.com/watchroom/backend/internal/videos"
)

func main() {
	// Initialize structured logging (reads LOGGING_LEVEL env var)
	logging.Initialize()

	// Load configuration
	cfg := config.Load()

	// Error tracking (no-op when SENTRY_DSN is unset)
	if cfg.SentryDSN != "" {
		err := sentrygo.Init(sentrygo.ClientOptions{
			Dsn:                   cfg.SentryDSN,
			Environment:           cfg.SentryEnvironment,
			BeforeSend:            sentry.ScrubEvent,
			BeforeSendTransaction: sentry.ScrubTransaction,
		})
		if err != nil {
			slog.Error("failed to initialize sentry", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer sentrygo.Flush(2 * time.Second)
	}

	// Initialize database
	sqlDB, err := database.New(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(sqlDB); err != nil {
		slog.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize queries
	queries := db.New(sqlDB)

	// Session state, fan-out, and the convergence engine
	store := session.NewStore()
	registry := broker.NewRegistry(store)
	publisher := broker.NewPublisher(registry)
	engine := session.NewEngine(store, publisher, videos.NewValidator())
	defer engine.Shutdown()

	// Friendships, direct messages, unread counters
	socialLedger := ledger.New(queries, queries, publisher)

	// Create router
	r := router.New(cfg, router.Deps{
		Store:    store,
		Engine:   engine,
		Registry: registry,
		Ledger:   socialLedger,
	})

	// Start server
	addr := ":" + cfg.Port
	slog.Info("starting server", slog.String("addr", addr))

	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
