package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/contents"
	"github.com/starford/inkwell/internal/postindex"
)

// Document kinds.
const (
	KindRSS     = "rss"
	KindSitemap = "sitemap"
)

// Exporter renders documents from the current index and optionally
// publishes them next to it.
type Exporter struct {
	Store       contents.Store
	Index       *postindex.Synchronizer
	Site        Site
	SitemapPath string
	Now         func() time.Time
}

// Result is one rendered document.
type Result struct {
	Kind      string `json:"kind"`
	Path      string `json:"path"`
	Posts     int    `json:"posts"`
	Published bool   `json:"published"`
	SHA       string `json:"sha,omitempty"`
	Data      []byte `json:"-"`
}

// Path returns the repository path kind is published at.
func (e *Exporter) Path(kind string) string {
	switch kind {
	case KindRSS:
		if e.Site.FeedPath != "" {
			return contents.CleanPath(e.Site.FeedPath)
		}
		return "rss.xml"
	case KindSitemap:
		if e.SitemapPath != "" {
			return contents.CleanPath(e.SitemapPath)
		}
		return "sitemap.xml"
	}
	return ""
}

// Export renders kind from the stored index. With publish the document is
// written to its path in the store.
func (e *Exporter) Export(ctx context.Context, kind string, publish bool) (*Result, error) {
	path := e.Path(kind)
	if path == "" {
		return nil, apperr.NewValidation("kind", fmt.Sprintf("unknown export %q", kind))
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}

	snap, err := e.Index.Load(ctx)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch kind {
	case KindRSS:
		data, err = RSS(snap.Value, e.Site, now())
	case KindSitemap:
		data, err = Sitemap(snap.Value, e.Site, now().UTC().Format(time.DateOnly))
	}
	if err != nil {
		return nil, err
	}

	res := &Result{Kind: kind, Path: path, Posts: len(snap.Value), Data: data}
	if !publish {
		return res, nil
	}
	file, err := Publish(ctx, e.Store, path, data, "Update "+path)
	if err != nil {
		return nil, fmt.Errorf("feed: publish %s: %w", path, err)
	}
	res.Published = true
	res.SHA = file.SHA
	return res, nil
}
