// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires perchd's components into a single process: config,
// store, adapter registry, broker, API server, event bus, and adapter
// executable watcher. Trimmed from the teacher's App, which additionally
// owned a service manager, worktree manager, workflow runner, terminal
// manager, log/trace/crash managers, a VS Code handler, and a proxy
// manager — none of which have a place in a session broker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"perch/internal/adapter"
	"perch/internal/api"
	"perch/internal/api/middleware"
	"perch/internal/broker"
	"perch/internal/config"
	"perch/internal/events"
	"perch/internal/store"
	"perch/internal/watcher"
)

// App is the main application container.
type App struct {
	mu sync.RWMutex

	configPath string
	version    string
	config     *config.Config

	store       *store.Store
	registry    *adapter.Registry
	broker      *broker.Broker
	apiServer   *api.Server
	eventBus    *events.MemoryEventBus
	execWatcher *watcher.ExecutableWatcher

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// New creates a new App instance: loads config, opens the transcript
// store, and builds the adapter registry and broker. It does not start
// listening; call Run for that.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	app.config = cfg

	st, err := store.Init(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	app.store = st

	app.registry = adapter.NewRegistry()
	app.broker = broker.New(app.registry, app.store)

	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: 1000,
		HistoryMaxAge:    24 * time.Hour,
	})
	app.eventBus.Subscribe(events.EventAdapterExecutableChanged, func(_ context.Context, e events.Event) error {
		log.Printf("adapter executable changed: %v", e.Payload)
		return nil
	})

	execWatcher, err := watcher.NewExecutableWatcher(app.eventBus, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to start executable watcher: %w", err)
	}
	app.execWatcher = execWatcher

	var auth middleware.Authenticator
	if cfg.Auth.Token != "" || cfg.Auth.AllowLocalhost {
		auth = middleware.NewTokenAuthenticator(cfg.Auth.Token, cfg.Auth.AllowLocalhost, cfg.Auth.ExemptPaths)
	}

	app.apiServer = api.NewServer(api.ServerConfig{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		TLSCert: cfg.Server.TLSCert,
		TLSKey:  cfg.Server.TLSKey,
	}, api.Dependencies{
		Broker: app.broker,
		Auth:   auth,
	})

	return app, nil
}

// Initialize runs the broker's restart recovery (conversations left
// running are demoted to suspended, not resumed) and watches each
// resolvable adapter executable. Separated from New so tests can construct an App
// without touching the filesystem beyond config/store setup.
func (app *App) Initialize(ctx context.Context) error {
	if err := app.broker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}

	for _, tool := range app.registry.Names() {
		if _, path, err := app.registry.Resolve(tool); err == nil {
			if err := app.execWatcher.Watch(tool, []string{path}); err != nil {
				log.Printf("failed to watch %s executable at %s: %v", tool, path, err)
			}
		}
	}

	return nil
}

// Run initializes the app, starts serving, and blocks until a shutdown
// signal or context cancellation, then shuts down gracefully.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting API server on %s:%d", app.config.Server.Host, app.config.Server.Port)
		if err := app.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server error: %w", err)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully stops the API server, drains the broker's running
// sessions, and closes the store.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}

	if app.broker != nil {
		if err := app.broker.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down broker: %v", err)
		}
	}

	if app.execWatcher != nil {
		app.execWatcher.Close()
	}

	if app.eventBus != nil {
		app.eventBus.Close()
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop requests an asynchronous shutdown; Run's select loop picks it up.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
