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
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/inkwell/internal/api"
	"github.com/starford/inkwell/internal/drafts"
	"github.com/starford/inkwell/internal/editor"
	"github.com/starford/inkwell/internal/localstore"
	"github.com/starford/inkwell/internal/sse"
	"github.com/starford/inkwell/internal/watch"
)

// Run starts the editor server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = newLogger(cfg.App, os.Stdout)
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("version", app.version),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("local_path", cfg.Local.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	db, err := localstore.Open(cfg.Local.Path)
	if err != nil {
		return fmt.Errorf("init local state: %w", err)
	}
	defer db.Close()

	st, err := buildStack(cfg, db)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	broker := sse.NewBroker(cfg.SSE.IndexThrottle)
	defer broker.Close()

	autosaver := drafts.New(db, cfg.Editor.AutosaveDelay)
	autosaver.OnSaved = func(key string, size int) {
		broker.Publish(sse.Event{Type: sse.DraftSaved, Data: map[string]any{"key": key, "size": size}})
	}
	defer autosaver.Close()

	templates, err := editor.LoadTemplates(cfg.Editor.TemplatesDir)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	deps := editor.Deps{
		Posts:     st.posts,
		Images:    st.images,
		Drafts:    autosaver,
		Templates: templates,
		Events:    broker,
	}
	if st.creds != nil {
		deps.Credentials = st.creds
	}
	session := editor.NewSession(deps)

	handler := api.NewHandler(api.Deps{
		Session:        session,
		Posts:          st.posts,
		Exporter:       st.exporter,
		Reconcile:      st.reconcile,
		Events:         broker,
		MaxUploadBytes: cfg.Editor.MaxImageBytes,
	})
	apiRouter := api.NewRouter(handler, api.Options{
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		Events:      broker,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", healthOK)
	r.Get("/health/ready", healthOK)

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Prime the post list; a missing token just leaves the session in setup.
	if session.Snapshot().Mode != editor.ModeSetup {
		if err := session.Refresh(ctx); err != nil {
			logger.Warn("initial refresh failed", slog.String("error", err.Error()))
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Store.Backend == BackendFS && cfg.Watch.Enabled {
		g.Go(func() error {
			err := watch.Watch(gCtx, cfg.Store.FS.Root, logger, watch.Options{
				Debounce: cfg.Watch.Debounce,
				Include:  siteFilter(cfg.Site),
			}, func(c watch.Change) {
				broker.Publish(sse.Event{Type: sse.StoreChanged, Data: c})
			})
			if err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

func healthOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// siteFilter limits watcher batches to the index, posts and images.
func siteFilter(site SiteConfig) func(rel string) bool {
	index := path.Clean(site.IndexPath)
	postsDir := path.Clean(site.PostsDir) + "/"
	imageDir := path.Clean(site.ImageDir) + "/"
	return func(rel string) bool {
		rel = path.Clean(strings.TrimPrefix(rel, "./"))
		return rel == index || strings.HasPrefix(rel, postsDir) || strings.HasPrefix(rel, imageDir)
	}
}
