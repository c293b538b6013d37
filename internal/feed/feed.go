// Package feed exports the post index as an RSS 2.0 feed and a sitemap.
package feed

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/contents"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/postindex"
)

const (
	DefaultItems = 20

	// Same layout JavaScript's Date.toUTCString produces.
	rfc1123GMT = "Mon, 02 Jan 2006 15:04:05 GMT"
)

// Site describes the published blog.
type Site struct {
	Title       string
	BaseURL     string
	Description string
	Language    string
	FeedPath    string         // repository path of the feed, used for the atom self link
	Items       int            // newest posts to include, default 20
	Location    *time.Location // zone post dates are interpreted in, default UTC
}

func (s Site) base() string { return strings.TrimSuffix(s.BaseURL, "/") }

// PostURL is the link the renderer serves slug at.
func (s Site) PostURL(slug string) string {
	return s.base() + "/#/post/" + url.PathEscape(slug)
}

type rss struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Atom    string     `xml:"xmlns:atom,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	Language      string    `xml:"language,omitempty"`
	LastBuildDate string    `xml:"lastBuildDate"`
	AtomLink      atomLink  `xml:"atom:link"`
	Items         []rssItem `xml:"item"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	GUID        string   `xml:"guid"`
	PubDate     string   `xml:"pubDate"`
	Description string   `xml:"description"`
	Categories  []string `xml:"category"`
}

// RSS renders the newest posts as an RSS 2.0 document.
func RSS(posts []models.Post, site Site, now time.Time) ([]byte, error) {
	sorted := clonePosts(posts)
	postindex.Sort(sorted)
	n := site.Items
	if n <= 0 {
		n = DefaultItems
	}
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	loc := site.Location
	if loc == nil {
		loc = time.UTC
	}
	feedPath := site.FeedPath
	if feedPath == "" {
		feedPath = "rss.xml"
	}

	doc := rss{
		Version: "2.0",
		Atom:    "http://www.w3.org/2005/Atom",
		Channel: rssChannel{
			Title:         site.Title,
			Link:          site.base() + "/",
			Description:   site.Description,
			Language:      site.Language,
			LastBuildDate: now.UTC().Format(rfc1123GMT),
			AtomLink: atomLink{
				Href: site.base() + "/" + contents.CleanPath(feedPath),
				Rel:  "self",
				Type: "application/rss+xml",
			},
		},
	}
	for _, p := range sorted {
		link := site.PostURL(p.Slug)
		item := rssItem{
			Title:       p.Title,
			Link:        link,
			GUID:        link,
			Description: p.Excerpt,
			Categories:  append([]string{p.Category}, p.Tags...),
		}
		if d, err := time.ParseInLocation(time.DateOnly, p.Date, loc); err == nil {
			item.PubDate = d.UTC().Format(rfc1123GMT)
		}
		doc.Channel.Items = append(doc.Channel.Items, item)
	}
	return marshal(doc)
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	NS      string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

// Sitemap renders the site's pages and every post as a sitemap.
func Sitemap(posts []models.Post, site Site, today string) ([]byte, error) {
	base := site.base()
	doc := urlSet{
		NS: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs: []sitemapURL{
			{Loc: base + "/", LastMod: today, ChangeFreq: "daily", Priority: "1.0"},
			{Loc: base + "/#/archives", LastMod: today, ChangeFreq: "weekly", Priority: "0.8"},
			{Loc: base + "/#/tags", LastMod: today, ChangeFreq: "weekly", Priority: "0.8"},
			{Loc: base + "/#/about", LastMod: today, ChangeFreq: "monthly", Priority: "0.7"},
		},
	}
	for _, p := range posts {
		doc.URLs = append(doc.URLs, sitemapURL{
			Loc:        site.PostURL(p.Slug),
			LastMod:    p.Date,
			ChangeFreq: "monthly",
			Priority:   "0.9",
		})
	}
	return marshal(doc)
}

// Publish writes data to path, overwriting whatever version is there.
func Publish(ctx context.Context, store contents.Store, path string, data []byte, message string) (*models.RemoteFile, error) {
	sha := ""
	current, err := store.Get(ctx, path)
	switch {
	case err == nil:
		sha = current.SHA
	case errors.Is(err, apperr.ErrNotFound):
	default:
		return nil, err
	}
	if message == "" {
		message = "Update " + path
	}
	return store.Put(ctx, path, data, message, sha)
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("feed: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("feed: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func clonePosts(posts []models.Post) []models.Post {
	out := make([]models.Post, len(posts))
	for i, p := range posts {
		out[i] = p.Clone()
	}
	return out
}
