package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"personaproxy/internal/retention"
	"personaproxy/pkg/config"
	"personaproxy/pkg/logger"
	"personaproxy/pkg/migrate"
	"personaproxy/pkg/proxy"
	"personaproxy/pkg/sink"
	"personaproxy/pkg/state"
	"personaproxy/pkg/store"
)

// App encapsulates the engine components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	st     *store.Store
	engine *proxy.Engine

	retCancel context.CancelFunc
	srv       *http.Server
}

// New initializes resources that do not require a running context: the
// state directory layout, the pebble store, format migrations and the
// engine itself. client is the platform adapter; nil falls back to the
// in-process sink, which is only useful for local development.
func New(eff config.EffectiveConfigResult, client sink.Client, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	// validate effective config early and fail fast
	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	if err := state.EnsureStateDirs(eff.DBPath); err != nil {
		return nil, fmt.Errorf("state layout: %w", err)
	}

	st, err := store.Open(state.StorePath(eff.DBPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}
	if err := migrate.Ensure(st); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if client == nil {
		logger.Warn("using_in_memory_sink")
		client = sink.NewMemory()
	}

	engine := proxy.New(st, client, proxy.Options{
		QueueCapacity:   eff.Config.Proxy.QueueCapacity,
		PostTimeout:     eff.Config.Proxy.PostTimeout.Duration(),
		MaxMessageBytes: eff.Config.Proxy.MaxMessageBytes.Int64(),
		SinkRPS:         eff.Config.Sink.RPS,
		SinkBurst:       eff.Config.Sink.Burst,
	})

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		st:        st,
		engine:    engine,
	}, nil
}

// Engine exposes the substitution engine to the embedding command layer.
func (a *App) Engine() *proxy.Engine { return a.engine }

// Store exposes the opened store, mainly for admin tooling.
func (a *App) Store() *store.Store { return a.st }

// Run starts the retention scheduler and the ops HTTP server, and
// blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	retCancel, err := retention.Start(ctx, a.eff, a.st)
	if err != nil {
		return err
	}
	a.retCancel = retCancel

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

// shutdown drains the engine and closes the store. Safe to call once.
func (a *App) shutdown() {
	if a.retCancel != nil {
		a.retCancel()
	}
	if a.srv != nil {
		_ = a.srv.Close()
	}
	a.engine.Close()
	if err := a.st.Close(); err != nil {
		logger.Warn("store_close_failed")
	}
	logger.Info("shutdown_complete")
}
