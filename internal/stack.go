package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/starford/inkwell/internal/contents"
	"github.com/starford/inkwell/internal/feed"
	"github.com/starford/inkwell/internal/images"
	"github.com/starford/inkwell/internal/localstore"
	"github.com/starford/inkwell/internal/postindex"
	"github.com/starford/inkwell/internal/posts"
	"github.com/starford/inkwell/internal/reconcile"
)

var errConfigRequired = errors.New("config is required")

// stack is the set of services every entry point works on.
type stack struct {
	db        *localstore.DB
	creds     *localstore.Credentials // nil for the fs backend
	store     contents.Store
	index     *postindex.Synchronizer
	posts     *posts.Service
	images    *images.Manager
	reconcile reconcile.Options
	exporter  *feed.Exporter
}

// buildStack wires the store and the services on top of it. db may be nil
// when no local state is available; the configured token is then the only
// credential.
func buildStack(cfg *Config, db *localstore.DB) (*stack, error) {
	st := &stack{db: db}

	switch cfg.Store.Backend {
	case BackendFS:
		if err := os.MkdirAll(cfg.Store.FS.Root, 0o755); err != nil {
			return nil, fmt.Errorf("create site dir: %w", err)
		}
		store, err := contents.NewFS(cfg.Store.FS.Root, cfg.Store.FS.PublicURL)
		if err != nil {
			return nil, err
		}
		st.store = store
	default:
		gh := cfg.Store.GitHub
		st.creds = localstore.NewCredentials(db, gh.Token)
		st.store = contents.NewGitHub(contents.GitHubConfig{
			APIURL:    gh.APIURL,
			Owner:     gh.Owner,
			Repo:      gh.Repo,
			Branch:    gh.Branch,
			PublicURL: gh.PublicURL,
			Timeout:   gh.Timeout,
		}, st.creds.Token)
	}

	st.index = postindex.New(st.store, cfg.Site.IndexPath)
	st.posts = posts.NewService(st.store, st.index, posts.Config{
		Dir:             cfg.Site.PostsDir,
		DefaultCategory: cfg.Editor.DefaultCategory,
	})
	st.images = images.New(st.store,
		images.WithDir(cfg.Site.ImageDir),
		images.WithMaxBytes(cfg.Editor.MaxImageBytes),
	)
	st.reconcile = reconcile.Options{
		Dir:             cfg.Site.PostsDir,
		DefaultCategory: cfg.Editor.DefaultCategory,
	}
	st.exporter = &feed.Exporter{
		Store:       st.store,
		Index:       st.index,
		Site:        cfg.Site.Feed(),
		SitemapPath: cfg.Site.SitemapPath,
	}
	return st, nil
}

// openSharedStack is used by commands that may run next to a serving
// process: the local state is opened read-only, or skipped when it does
// not exist yet.
func openSharedStack(cfg *Config, logger *slog.Logger) (*stack, error) {
	db, err := localstore.OpenReadOnly(cfg.Local.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("local state unavailable", slog.String("path", cfg.Local.Path), slog.String("error", err.Error()))
		}
		db = nil
	}
	st, err := buildStack(cfg, db)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}
	return st, nil
}

func (s *stack) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
