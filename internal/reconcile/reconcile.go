// Package reconcile diffs the post markdown files against the post index and
// optionally heals the index. It never deletes files.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/starford/inkwell/internal/contents"
	"github.com/starford/inkwell/internal/markdown"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/postindex"
	"github.com/starford/inkwell/internal/posts"
)

var datedSlug = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})-(.+)$`)

// Options controls one pass.
type Options struct {
	Heal            bool
	Dir             string           // markdown directory, default "posts"
	DefaultCategory string           // category given to recovered records
	Now             func() time.Time // date for slugs that carry none
}

// Report is the outcome of a pass.
type Report struct {
	// Orphans are slugs with a markdown file but no index record.
	Orphans []string `json:"orphans"`
	// Dangling are slugs with an index record but no markdown file.
	Dangling []string `json:"dangling"`
	Files    int      `json:"files"`
	Records  int      `json:"records"`
	Healed   bool     `json:"healed"`
	Version  string   `json:"version,omitempty"`
}

// Clean reports whether files and records agree.
func (r *Report) Clean() bool {
	return len(r.Orphans) == 0 && len(r.Dangling) == 0
}

// Run lists the markdown directory, compares it with the index and, when
// opts.Heal is set, fixes the index in a single write: a record is added for
// each orphan and dangling records are removed.
func Run(ctx context.Context, store contents.Store, sync *postindex.Synchronizer, opts Options) (*Report, error) {
	if opts.Dir == "" {
		opts.Dir = posts.DefaultDir
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	entries, err := store.List(ctx, opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list %s: %w", opts.Dir, err)
	}
	files := make(map[string]models.Entry)
	for _, e := range entries {
		if e.Type != "file" || !strings.HasSuffix(e.Name, ".md") {
			continue
		}
		files[strings.TrimSuffix(e.Name, ".md")] = e
	}

	snap, err := sync.Load(ctx)
	if err != nil {
		return nil, err
	}
	records := make(map[string]bool, len(snap.Value))
	for _, p := range snap.Value {
		records[p.Slug] = true
	}

	rep := &Report{Files: len(files), Records: len(snap.Value), Version: snap.Version,
		Orphans: []string{}, Dangling: []string{}}
	for slug := range files {
		if !records[slug] {
			rep.Orphans = append(rep.Orphans, slug)
		}
	}
	for _, p := range snap.Value {
		if _, ok := files[p.Slug]; !ok {
			rep.Dangling = append(rep.Dangling, p.Slug)
		}
	}
	sort.Strings(rep.Orphans)
	sort.Strings(rep.Dangling)

	slog.Info("reconcile",
		slog.Int("files", rep.Files),
		slog.Int("records", rep.Records),
		slog.Int("orphans", len(rep.Orphans)),
		slog.Int("dangling", len(rep.Dangling)))

	if !opts.Heal || rep.Clean() {
		return rep, nil
	}

	var changes []postindex.Mutation
	for _, slug := range rep.Orphans {
		file, err := store.Get(ctx, files[slug].Path)
		if err != nil {
			return nil, fmt.Errorf("reconcile: read %s: %w", slug, err)
		}
		changes = append(changes, postindex.Upsert(Recover(slug, string(file.Content), opts)))
	}
	if len(rep.Dangling) > 0 {
		changes = append(changes, postindex.RemoveAll(rep.Dangling...))
	}
	msg := fmt.Sprintf("Update posts.json: reconcile (+%d -%d)", len(rep.Orphans), len(rep.Dangling))
	written, err := sync.Write(ctx, snap, msg, postindex.Chain(changes...))
	if err != nil {
		return nil, err
	}
	rep.Healed = true
	rep.Version = written.Version
	rep.Records = len(written.Value)
	return rep, nil
}

// Recover builds an index record for a markdown file that has none. A slug
// of the form YYYY-MM-DD-title gives the date and title; otherwise the slug
// is the title and today is the date.
func Recover(slug, content string, opts Options) models.Post {
	p := models.Post{
		Slug:     slug,
		Title:    slug,
		Category: opts.DefaultCategory,
		Tags:     []string{},
		Excerpt:  markdown.Excerpt(content, markdown.ExcerptLength),
	}
	if m := datedSlug.FindStringSubmatch(slug); m != nil {
		if _, err := time.Parse(time.DateOnly, m[1]); err == nil {
			p.Date, p.Title = m[1], m[2]
		}
	}
	if p.Date == "" {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		p.Date = now().UTC().Format(time.DateOnly)
	}
	if p.Category == "" {
		p.Category = posts.DefaultCategory
	}
	return p
}
