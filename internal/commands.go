package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/starford/inkwell/internal/mcpserver"
	"github.com/starford/inkwell/internal/reconcile"
)

// prepare sets up a one-shot command: a coloured logger on stderr and the
// shared stack.
func prepare(opts []Option) (*application, *stack, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, nil, err
	}
	if app.logger == nil {
		app.logger = newTextLogger(app.config.App.LogLevel, os.Stderr)
	}
	slog.SetDefault(app.logger)

	st, err := openSharedStack(app.config, app.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init store: %w", err)
	}
	if st.creds != nil && !st.creds.HasToken() {
		st.Close()
		return nil, nil, fmt.Errorf("no GitHub token: set store.github.token or save one from the editor")
	}
	return app, st, nil
}

// ServeMCP runs the MCP server on stdin/stdout until the client disconnects.
// Logs go to stderr.
func ServeMCP(_ context.Context, opts ...Option) error {
	app, st, err := prepare(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := mcpserver.New(mcpserver.Deps{
		Posts:     st.posts,
		Images:    st.images,
		Reconcile: st.reconcile,
	}, app.version)
	app.logger.Info("MCP server starting", slog.String("version", app.version))
	return srv.ServeStdio()
}

// ListPosts prints the index as a table.
func ListPosts(ctx context.Context, opts ...Option) error {
	app, st, err := prepare(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.posts.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(app.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tTITLE\tCATEGORY\tTAGS\tDATE")
	for _, p := range snap.Value {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Slug, p.Title, p.Category, strings.Join(p.Tags, ","), relDate(p.Date))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(app.out, "%d posts\n", len(snap.Value))
	return nil
}

func relDate(date string) string {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return date
	}
	return date + " (" + humanize.Time(t) + ")"
}

// DeletePosts deletes posts and their index records. Posts deleted before a
// failure are reported and stay deleted.
func DeletePosts(ctx context.Context, slugs []string, opts ...Option) error {
	app, st, err := prepare(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	deleted, err := st.posts.DeleteMany(ctx, slugs)
	for _, slug := range deleted {
		fmt.Fprintf(app.out, "deleted %s\n", slug)
	}
	return err
}

// ListImages prints the uploaded images with their sizes.
func ListImages(ctx context.Context, opts ...Option) error {
	app, st, err := prepare(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	list, err := st.images.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(app.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tURL")
	var total int64
	for _, img := range list {
		total += img.Size
		fmt.Fprintf(tw, "%s\t%s\t%s\n", img.Path, humanize.IBytes(uint64(img.Size)), img.URL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(app.out, "%d images, %s\n", len(list), humanize.IBytes(uint64(total)))
	return nil
}

// Reconcile compares post files with the index and, with heal, fixes the
// index in one write.
func Reconcile(ctx context.Context, heal bool, opts ...Option) error {
	app, st, err := prepare(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	ro := st.reconcile
	ro.Heal = heal
	report, err := reconcile.Run(ctx, st.store, st.index, ro)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.out, "%d files, %d records\n", report.Files, report.Records)
	for _, slug := range report.Orphans {
		fmt.Fprintf(app.out, "orphan   %s (file without record)\n", slug)
	}
	for _, slug := range report.Dangling {
		fmt.Fprintf(app.out, "dangling %s (record without file)\n", slug)
	}
	switch {
	case report.Clean():
		fmt.Fprintln(app.out, "index is consistent")
	case report.Healed:
		fmt.Fprintf(app.out, "index healed (version %s)\n", report.Version)
	default:
		fmt.Fprintln(app.out, "run with --heal to fix the index")
	}
	return nil
}

// Export renders the RSS feed or the sitemap. Without publish the document
// is written to the output; with publish it is committed to the store.
func Export(ctx context.Context, kind string, publish bool, opts ...Option) error {
	app, st, err := prepare(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := st.exporter.Export(ctx, kind, publish)
	if err != nil {
		return err
	}
	if !publish {
		_, err = app.out.Write(res.Data)
		return err
	}
	fmt.Fprintf(app.out, "published %s (%d posts, %s, sha %s)\n",
		res.Path, res.Posts, humanize.IBytes(uint64(len(res.Data))), res.SHA)
	return nil
}
