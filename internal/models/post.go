// Package models defines the domain types for inkwell.
package models

import "fmt"

// Post is one record of the post index. Slug is the unique key and the base
// name of the post's markdown file.
type Post struct {
	Slug     string   `json:"slug"`
	Title    string   `json:"title"`
	Date     string   `json:"date"` // YYYY-MM-DD
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	Excerpt  string   `json:"excerpt"`
}

// Clone returns a deep copy of p.
func (p Post) Clone() Post {
	out := p
	out.Tags = append([]string{}, p.Tags...)
	return out
}

// RemoteFile is a file read from (or just written to) the content store.
type RemoteFile struct {
	Path        string `json:"path"`
	Content     []byte `json:"-"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url,omitempty"`
}

// Entry is one item of a directory listing.
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	Type        string `json:"type"` // "file" or "dir"
	DownloadURL string `json:"download_url,omitempty"`
}

// Image is an uploaded image asset.
type Image struct {
	Name string `json:"name"`
	Path string `json:"path"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// Markdown returns the image reference to embed in a post body.
func (i Image) Markdown() string {
	return fmt.Sprintf("![%s](%s)", i.Name, i.URL)
}

// Versioned pairs a value with the store version it was read at. An empty
// Version means the value does not exist in the store yet.
type Versioned[T any] struct {
	Value   T
	Version string
}

// Exists reports whether the value was read from an existing file.
func (v Versioned[T]) Exists() bool {
	return v.Version != ""
}
