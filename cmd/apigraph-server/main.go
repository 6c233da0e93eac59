package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/systemshift/apigraph/internal/auth"
	"github.com/systemshift/apigraph/internal/config"
	"github.com/systemshift/apigraph/internal/fetch"
	"github.com/systemshift/apigraph/internal/logger"
	"github.com/systemshift/apigraph/internal/model"
	"github.com/systemshift/apigraph/internal/server/api"
	"github.com/systemshift/apigraph/internal/server/events"
	"github.com/systemshift/apigraph/internal/server/graph"
	"github.com/systemshift/apigraph/internal/state"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "apigraph-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from defaults, file and environment
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "apigraph-server",
	})
	if err != nil {
		return err
	}

	// Initialize snapshot storage
	ctx := context.Background()
	repo, err := graph.Open(ctx, graph.Config{
		Backend:    cfg.Store.Backend,
		SQLitePath: cfg.Store.SQLitePath,
		Neo4j: graph.Neo4jConfig{
			URI:      cfg.Store.Neo4j.URI,
			Username: cfg.Store.Neo4j.User,
			Password: cfg.Store.Neo4j.Password,
			Database: cfg.Store.Neo4j.Database,
		},
	})
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}
	if repo != nil {
		defer repo.Close(ctx)
		log.Info("snapshot store ready", "backend", cfg.Store.Backend)
	}

	httpClient := &http.Client{Timeout: cfg.Fetch.Timeout}
	fetcher := fetch.New(fetch.Config{
		Client:            httpClient,
		Workers:           cfg.Fetch.Workers,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		Logger:            log.With("component", "fetch"),
	})

	authOpts := []auth.Option{
		auth.WithHTTPClient(httpClient),
		auth.WithMode(cfg.EnvMode),
		auth.WithLogger(log.With("component", "auth")),
	}
	if cfg.ServicesURL != "" {
		u, err := url.Parse(cfg.ServicesURL)
		if err != nil {
			return fmt.Errorf("parsing services url: %w", err)
		}
		authOpts = append(authOpts, auth.WithServicesURL(u))
	}

	hub := events.NewHub(log.With("component", "events"))
	hub.Start()
	defer hub.Stop()

	apiServer := api.New(api.Options{
		State:       state.NewStore(state.Snapshot{Auth: auth.Session{TenantURL: cfg.TenantURL, Mode: cfg.EnvMode}}),
		Auth:        auth.NewClient(authOpts...),
		Fetcher:     fetcher,
		Transformer: model.NewTransformer(log.With("component", "model")),
		Repo:        repo,
		Hub:         hub,
		RootPath:    cfg.RootPath,
		StaticDir:   cfg.StaticDir,
		Logger:      log,
	})
	if err := apiServer.Restore(ctx); err != nil {
		log.Warn("restoring last snapshot failed", "error", err)
	}

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Fetch.Timeout + 5*time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting apigraph server", "addr", "http://localhost:"+cfg.Port, "tenant", cfg.TenantURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}
