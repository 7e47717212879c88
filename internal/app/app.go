// ABOUTME: Composes the full dispatch service: store, pool, scheduler, console, transport.
// ABOUTME: Owns the HTTP listener lifecycle and graceful shutdown.

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/donafarma/dispatch/internal/config"
	"github.com/donafarma/dispatch/internal/console"
	"github.com/donafarma/dispatch/internal/dispatch"
	"github.com/donafarma/dispatch/internal/geo"
	"github.com/donafarma/dispatch/internal/metrics"
	"github.com/donafarma/dispatch/internal/pool"
	"github.com/donafarma/dispatch/internal/store"
	"github.com/donafarma/dispatch/internal/transport"
)

// App is the assembled dispatch service.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.SQLiteStore
	pool      *pool.Pool
	scheduler *dispatch.Scheduler
	server    *http.Server
}

// New wires every component from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	specs := make([]pool.Spec, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		specs = append(specs, pool.Spec{ID: a.ID, Name: a.Name, Capacity: a.Capacity})
	}
	agentPool := pool.New(specs, logger)

	lookup := geo.NewClient(
		geo.Coordinates{Lat: cfg.Store.Latitude, Lng: cfg.Store.Longitude},
		cfg.Store.DeliveryRadiusKm,
		cfg.Dispatch.LookupTimeout,
		logger,
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
	}

	var sender dispatch.TextSender
	if cfg.Transport.OutboundURL != "" {
		sender = transport.NewWebhookSender(cfg.Transport.OutboundURL, cfg.Transport.Token, logger)
	} else {
		sender = transport.NewLogSender(logger)
	}

	hub := console.NewHub(logger)
	scheduler := dispatch.New(cfg, agentPool, st, sender, lookup, hub, m, logger)
	consoleServer := console.NewServer(scheduler, agentPool, st, hub, logger)

	router := consoleServer.Router()
	router.HandleFunc("/webhook/inbound",
		transport.InboundHandler(scheduler, cfg.Transport.Token, logger)).Methods(http.MethodPost)
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	return &App{
		cfg:       cfg,
		logger:    logger.With("component", "app"),
		store:     st,
		pool:      agentPool,
		scheduler: scheduler,
		server: &http.Server{
			Addr:         cfg.Server.HTTPAddr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// Run restores persisted state, starts the listener and the background
// sweeps, and blocks until ctx is cancelled, then shuts down cleanly.
func (a *App) Run(ctx context.Context) error {
	if err := a.scheduler.Restore(ctx); err != nil {
		return fmt.Errorf("restoring dispatch state: %w", err)
	}
	a.seedServedCounters(ctx)

	go a.scheduler.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http listener started", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.store.Close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown did not finish cleanly", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}
	return nil
}

// seedServedCounters loads today's per-agent completion counts so the console
// shows continuous numbers across a restart.
func (a *App) seedServedCounters(ctx context.Context) {
	day := time.Now().Format("2006-01-02")
	for _, agent := range a.cfg.Agents {
		n, err := a.store.GetServed(ctx, agent.ID, day)
		if err != nil {
			a.logger.Warn("failed to load served counter", "agent", agent.ID, "error", err)
			continue
		}
		a.pool.SetServedToday(agent.ID, n)
	}
}
