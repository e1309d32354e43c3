// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires every gateway component together — config, the RPC
// child-process manager, the reliability layer, the WebSocket multiplexer,
// the review bus, UI-event broadcast, and the HTTP surface — and owns the
// process lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ravshansbox/rho-sub003/internal/api"
	"github.com/ravshansbox/rho-sub003/internal/gateway"
	"github.com/ravshansbox/rho-sub003/internal/reliability"
	"github.com/ravshansbox/rho-sub003/internal/review"
	"github.com/ravshansbox/rho-sub003/internal/rhoconfig"
	"github.com/ravshansbox/rho-sub003/internal/rpcagent"
	"github.com/ravshansbox/rho-sub003/internal/uibroadcast"
)

// App is the main application container: the gateway daemon's process
// lifecycle, owning every long-lived component.
type App struct {
	mu sync.RWMutex

	configPath string
	version    string
	config     *rhoconfig.Config

	agents      *rpcagent.Manager
	reliability *reliability.Layer
	ui          *uibroadcast.Broadcaster
	reviewStore *review.FileStore
	reviewBus   *review.Bus
	multiplexer *gateway.Multiplexer
	apiServer   *api.Server

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds the command-line-configurable parts of app startup.
type Options struct {
	ConfigPath string
	Listen     string // overrides config's server.listen if set
	Version    string
}

// New creates a new App instance, loading configuration but not yet
// constructing any component.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	loader := rhoconfig.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}
	app.config = cfg

	return app, nil
}

// Initialize constructs every component from the loaded config, wiring
// each one's collaborators in dependency order.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	if err := os.MkdirAll(cfg.Sessions.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create sessions dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Review.StorePath), 0755); err != nil {
		return fmt.Errorf("failed to create review store dir: %w", err)
	}

	ui, err := uibroadcast.New(100 * time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to create UI broadcaster: %w", err)
	}
	app.ui = ui
	if err := os.MkdirAll(filepath.Dir(cfg.Watch.GitContextPath), 0755); err != nil {
		log.Printf("Warning: failed to create git-context dir: %v", err)
	} else if _, err := os.Stat(cfg.Watch.GitContextPath); err == nil {
		if err := app.ui.WatchGitContext(cfg.Watch.GitContextPath); err != nil {
			log.Printf("Warning: failed to watch git-context file: %v", err)
		}
	} else {
		log.Printf("git-context file %s does not exist yet, not watching", cfg.Watch.GitContextPath)
	}

	app.reliability = reliability.New(reliability.Config{
		RingSize:           cfg.Reliability.EventBufferSize,
		CommandRetentionMs: cfg.Reliability.CommandRetentionMs,
		GraceMs:            cfg.Reliability.OrphanGraceMs,
		AbortDelayMs:       cfg.Reliability.OrphanAbortDelayMs,
	})

	agentArgs := cfg.Agent.Args
	app.agents = rpcagent.NewManager(rpcagent.SpawnConfig{
		Command: cfg.Agent.Command,
		Args:    agentArgs,
	})

	store, err := review.NewFileStore(cfg.Review.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open review store: %w", err)
	}
	app.reviewStore = store
	app.reviewBus = review.NewBus(store, app.ui, review.BusConfig{
		OpenTTL:      time.Duration(cfg.Review.OpenTTLMs) * time.Millisecond,
		MaxFileBytes: cfg.Review.MaxFileBytes,
	})

	app.multiplexer = gateway.New(app.agents, app.reliability, app.ui, cfg.Sessions.Dir)

	_, baseURL := splitListen(cfg.Server.Listen)
	app.apiServer = api.NewServer(
		serverConfigFromListen(cfg.Server.Listen),
		api.Dependencies{
			Multiplexer:  app.multiplexer,
			ReviewBus:    app.reviewBus,
			UI:           app.ui,
			SessionsRoot: cfg.Sessions.Dir,
			RepoRoot:     repoRootFromConfigPath(app.configPath),
			StartedAt:    time.Now(),
			BaseURL:      baseURL,
		},
	)

	return nil
}

// Start starts the components that run in the background: the HTTP
// server, which serves the gateway/review WebSockets and REST surface.
func (app *App) Start(ctx context.Context) error {
	go func() {
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
		}
	}()
	return nil
}

// Run initializes, starts, and blocks until a shutdown signal, context
// cancellation, or explicit Stop() call, then shuts down gracefully.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully tears down every component, bounded to 30 seconds.
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
	if app.reviewBus != nil {
		app.reviewBus.Close()
	}
	if app.ui != nil {
		if err := app.ui.Close(); err != nil {
			log.Printf("Error closing UI broadcaster: %v", err)
		}
	}
	if app.agents != nil {
		app.agents.Dispose()
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}

func serverConfigFromListen(listen string) api.ServerConfig {
	host, port := splitHostPort(listen)
	return api.ServerConfig{Host: host, Port: port}
}

func splitListen(listen string) (host, baseURL string) {
	h, port := splitHostPort(listen)
	return h, fmt.Sprintf("ws://%s:%d", displayHost(h), port)
}

func displayHost(host string) string {
	if host == "" || host == "0.0.0.0" {
		return "127.0.0.1"
	}
	return host
}

func splitHostPort(listen string) (string, int) {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return "127.0.0.1", 4590
	}
	port := 4590
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

func repoRootFromConfigPath(configPath string) string {
	if configPath == "" {
		wd, _ := os.Getwd()
		return wd
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return "."
	}
	return filepath.Dir(abs)
}
