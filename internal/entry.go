// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/laguz/internal/account"
	"github.com/starford/laguz/internal/api"
	"github.com/starford/laguz/internal/cachestore"
	"github.com/starford/laguz/internal/coordinator"
	"github.com/starford/laguz/internal/mcpserver"
	"github.com/starford/laguz/internal/notesync"
	"github.com/starford/laguz/internal/searchindex"
	"github.com/starford/laguz/internal/sse"
	"github.com/starford/laguz/internal/token"
	"github.com/starford/laguz/internal/transport"
)

// reconcileInterval is how often the background loop probes connectivity and
// replays offline work.
const reconcileInterval = 30 * time.Second

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("backend", cfg.Backend.BaseURL),
		slog.String("cache_path", cfg.Cache.Path),
		slog.String("index_path", cfg.Index.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure cache directory exists.
	if err := os.MkdirAll(cfg.Cache.Path, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	// Initialize local cache.
	cache, err := cachestore.Open(cfg.Cache.Path)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	defer cache.Close()

	// Initialize SQLite search mirror.
	idx, err := searchindex.Open(cfg.Index.Path)
	if err != nil {
		return fmt.Errorf("init search index: %w", err)
	}
	defer idx.Close()

	// Wire the sync core.
	tr := transport.NewHTTP(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	tokens := token.NewManager(cache, tr)
	coord := coordinator.New(tokens)

	probe := app.probe
	if probe == nil {
		probe = notesync.DialProbe{Addr: cfg.Backend.ProbeAddr()}
	}

	svc := notesync.NewService(cache, idx, tokens, coord, tr, probe)
	acct := account.NewClient(tr, cache, tokens)

	if app.mcpMode {
		logger.Info("Starting MCP server on stdio")
		return mcpserver.New(svc).ServeStdio()
	}

	// SSE broker for the local UI.
	broker := sse.NewBroker()
	defer broker.Close()
	svc.SetEvents(broker)

	// Build gateway router.
	gw := api.NewRouter(svc, acct, cfg.Auth.AuthEnabled(), cfg.Auth.Token, http.HandlerFunc(broker.ServeHTTP))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount the gateway under /api.
	r.Mount("/api", gw)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Gateway starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Background reconciler: probe connectivity, announce transitions,
	// replay offline work when the network comes back.
	g.Go(func() error {
		reconcileLoop(gCtx, svc, probe, broker, logger)
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down gateway...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Gateway stopped successfully")
	return nil
}

func reconcileLoop(ctx context.Context, svc *notesync.Service, probe notesync.ConnectivityProbe, broker *sse.Broker, logger *slog.Logger) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	wasOnline := probe.Online()
	broker.PublishConnectivity(wasOnline)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		online := probe.Online()
		broker.PublishConnectivity(online)
		if !online {
			wasOnline = false
			continue
		}
		if !wasOnline {
			logger.Info("Connectivity restored, reconciling offline work")
		}
		wasOnline = true

		n, err := svc.Reconcile(ctx)
		if err != nil {
			logger.Warn("reconcile incomplete", slog.Int("replayed", n), slog.String("error", err.Error()))
		} else if n > 0 {
			logger.Info("reconciled offline work", slog.Int("replayed", n))
		}
	}
}
