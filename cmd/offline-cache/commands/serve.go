package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/internal/admin"
	"github.com/always-cache/offline-cache/internal/config"
	"github.com/always-cache/offline-cache/pkg/generation"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the offline cache in front of the portal origin",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServer(cmd.Context(), cfg)
	},
}

// app is everything the server is built from.
type app struct {
	worker  *offlinecache.Worker
	storage cache.Storage
	admin   *admin.Router
	// public proxy listener
	handler http.Handler
	// set when the admin API has its own listener
	adminHandler http.Handler
}

func newApp(cfg *config.Config) (*app, error) {
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	upstream, err := cfg.UpstreamURL()
	if err != nil {
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}

	storage, err := cache.New(cfg.Cache.Provider, cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("could not open cache storage: %w", err)
	}

	worker, err := offlinecache.New(offlinecache.Config{
		Generation:  generation.Name{Prefix: cfg.Cache.Prefix, Version: cfg.Cache.Version},
		Origin:      origin,
		Network:     offlinecache.NewOriginNetwork(origin, upstream, cfg.Site.Host, cfg.Site.Timeout),
		Storage:     storage,
		Precache:    cfg.Worker.Precache,
		Rules:       cfg.FetchRules(),
		SkipWaiting: cfg.Worker.SkipWaiting,
		Development: cfg.Worker.Development,

		TrustForwardedHeaders: cfg.Site.TrustForwardedHeaders,
	})
	if err != nil {
		storage.Close()
		return nil, err
	}

	a := &app{worker: worker, storage: storage, handler: worker}
	if !cfg.Admin.Enabled {
		return a, nil
	}
	a.admin = admin.NewRouter(worker, admin.Options{
		Metrics:       cfg.Metrics.Enabled,
		UpdateTimeout: cfg.Site.Timeout * 10,
	})
	mux := chi.NewRouter()
	mux.Mount(cfg.Admin.Prefix, a.admin)
	if cfg.Admin.Listen != "" {
		a.adminHandler = mux
		return a, nil
	}
	mux.NotFound(worker.ServeHTTP)
	a.handler = mux
	return a, nil
}

func (a *app) close() {
	if a.admin != nil {
		a.admin.Wait()
	}
	a.worker.Close()
	if err := a.storage.Close(); err != nil {
		log.Error().Err(err).Msg("Could not close cache storage")
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	server := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: a.handler,
	}
	servers := []*http.Server{server}
	if a.adminHandler != nil {
		servers = append(servers, &http.Server{
			Addr:    cfg.Admin.Listen,
			Handler: a.adminHandler,
		})
	}

	serverErr := make(chan error, len(servers))
	var running sync.WaitGroup
	for _, srv := range servers {
		running.Add(1)
		go func(srv *http.Server) {
			defer running.Done()
			log.Info().Str("listen", srv.Addr).Str("origin", cfg.Site.Origin).Msg("Starting listener")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}(srv)
	}
	go func() {
		running.Wait()
		close(serverErr)
	}()

	// registration failures leave the worker passing requests through
	a.worker.Register(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err, ok := <-serverErr:
		if ok {
			for _, srv := range servers {
				srv.Close()
			}
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-sigChan:
		log.Info().Msg("Shutdown signal received, shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown of %s failed: %w", srv.Addr, err)
		}
	}
	log.Info().Msg("Server stopped")
	return nil
}
