package internal

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/inkwell/internal/localstore"
	"github.com/starford/inkwell/internal/posts"
)

func fsConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Store.Backend = BackendFS
	cfg.Store.FS.Root = filepath.Join(dir, "site")
	cfg.Store.FS.PublicURL = "https://blog.example.com"
	cfg.Site.BaseURL = "https://blog.example.com"
	cfg.Site.Title = "Test"
	cfg.Local.Path = filepath.Join(dir, "inkwell.db")
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func runCmd(t *testing.T, cfg *Config, fn func(opts ...Option) error) string {
	t.Helper()
	var out bytes.Buffer
	err := fn(
		WithConfig(cfg),
		WithOutput(&out),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("command failed: %v\noutput: %s", err, out.String())
	}
	return out.String()
}

func seedPost(t *testing.T, cfg *Config, title string) string {
	t.Helper()
	st, err := buildStack(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	p, err := st.posts.Create(context.Background(), posts.Input{Title: title, Tags: []string{"go"}, Content: "# " + title})
	if err != nil {
		t.Fatal(err)
	}
	return p.Slug
}

func TestListPostsCommand(t *testing.T) {
	cfg := fsConfig(t)
	slug := seedPost(t, cfg, "hello")

	out := runCmd(t, cfg, func(opts ...Option) error { return ListPosts(context.Background(), opts...) })
	if !strings.Contains(out, slug) || !strings.Contains(out, "1 posts") {
		t.Errorf("output = %q", out)
	}
}

func TestDeletePostsCommand(t *testing.T) {
	cfg := fsConfig(t)
	slug := seedPost(t, cfg, "bye")

	out := runCmd(t, cfg, func(opts ...Option) error {
		return DeletePosts(context.Background(), []string{slug}, opts...)
	})
	if strings.TrimSpace(out) != "deleted "+slug {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(cfg.Store.FS.Root, "posts", slug+".md")); !os.IsNotExist(err) {
		t.Errorf("markdown file should be gone: %v", err)
	}
}

func TestReconcileCommand(t *testing.T) {
	cfg := fsConfig(t)
	seedPost(t, cfg, "kept")
	orphan := filepath.Join(cfg.Store.FS.Root, "posts", "2024-01-01-lost.md")
	if err := os.WriteFile(orphan, []byte("lost"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := runCmd(t, cfg, func(opts ...Option) error { return Reconcile(context.Background(), false, opts...) })
	if !strings.Contains(out, "orphan   2024-01-01-lost") || !strings.Contains(out, "--heal") {
		t.Errorf("dry run output = %q", out)
	}
	out = runCmd(t, cfg, func(opts ...Option) error { return Reconcile(context.Background(), true, opts...) })
	if !strings.Contains(out, "index healed") {
		t.Errorf("heal output = %q", out)
	}
	out = runCmd(t, cfg, func(opts ...Option) error { return Reconcile(context.Background(), false, opts...) })
	if !strings.Contains(out, "index is consistent") {
		t.Errorf("after heal = %q", out)
	}
}

func TestExportCommand(t *testing.T) {
	cfg := fsConfig(t)
	seedPost(t, cfg, "feed me")

	out := runCmd(t, cfg, func(opts ...Option) error { return Export(context.Background(), "rss", false, opts...) })
	if !strings.Contains(out, "<rss") || !strings.Contains(out, "feed me") {
		t.Errorf("rss = %q", out)
	}
	if _, err := os.Stat(filepath.Join(cfg.Store.FS.Root, "rss.xml")); !os.IsNotExist(err) {
		t.Error("an unpublished export must not write the repository")
	}

	out = runCmd(t, cfg, func(opts ...Option) error { return Export(context.Background(), "sitemap", true, opts...) })
	if !strings.HasPrefix(out, "published sitemap.xml") {
		t.Errorf("publish output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(cfg.Store.FS.Root, "sitemap.xml")); err != nil {
		t.Errorf("sitemap not written: %v", err)
	}

	err := Export(context.Background(), "atom", false, WithConfig(cfg), WithOutput(io.Discard),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err == nil {
		t.Error("unknown kind should fail")
	}
}

func TestListImagesCommand(t *testing.T) {
	cfg := fsConfig(t)
	dir := filepath.Join(cfg.Store.FS.Root, "image")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "1-cat.png"), make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}

	out := runCmd(t, cfg, func(opts ...Option) error { return ListImages(context.Background(), opts...) })
	if !strings.Contains(out, "image/1-cat.png") || !strings.Contains(out, "2.0 KiB") {
		t.Errorf("output = %q", out)
	}
}

func TestCommandRequiresToken(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Store.GitHub.Owner = "alice"
	cfg.Store.GitHub.Repo = "blog"
	cfg.Local.Path = filepath.Join(t.TempDir(), "inkwell.db")

	err := ListPosts(context.Background(), WithConfig(cfg), WithOutput(io.Discard),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err == nil || !strings.Contains(err.Error(), "no GitHub token") {
		t.Errorf("err = %v", err)
	}
}

func TestSharedStackReadsSavedToken(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Store.GitHub.Owner = "alice"
	cfg.Store.GitHub.Repo = "blog"
	cfg.Local.Path = filepath.Join(t.TempDir(), "inkwell.db")

	db, err := localstore.Open(cfg.Local.Path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Set(localstore.KeyToken, "saved-token"); err != nil {
		t.Fatal(err)
	}

	st, err := openSharedStack(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if got := st.creds.Token(); got != "saved-token" {
		t.Errorf("token = %q", got)
	}
	db.Close()
}

func TestMissingConfig(t *testing.T) {
	if err := Run(context.Background()); err != errConfigRequired {
		t.Errorf("err = %v", err)
	}
}
