// Package images manages image assets stored under one directory of the
// site repository. Images are addressed by name only and never touch the
// post index.
package images

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/contents"
	"github.com/starford/inkwell/internal/models"
)

const (
	DefaultDir      = "image"
	DefaultMaxBytes = 5 << 20
)

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

	imageExts = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
		".svg": true, ".bmp": true, ".ico": true, ".avif": true,
	}
)

// Upload is one file handed in by the editor.
type Upload struct {
	Name string
	MIME string
	Data []byte
}

// Manager lists, uploads and deletes images.
type Manager struct {
	store    contents.Store
	dir      string
	maxBytes int64
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithDir sets the repository directory images live in.
func WithDir(dir string) Option {
	return func(m *Manager) {
		if dir = contents.CleanPath(dir); dir != "" {
			m.dir = dir
		}
	}
}

// WithMaxBytes sets the upload size limit.
func WithMaxBytes(n int64) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxBytes = n
		}
	}
}

// WithClock overrides the time source used for upload names.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager.
func New(store contents.Store, opts ...Option) *Manager {
	m := &Manager{store: store, dir: DefaultDir, maxBytes: DefaultMaxBytes, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Dir returns the image directory.
func (m *Manager) Dir() string { return m.dir }

// List returns the images in the directory, skipping non-image files.
func (m *Manager) List(ctx context.Context) ([]models.Image, error) {
	entries, err := m.store.List(ctx, m.dir)
	if err != nil {
		return nil, err
	}
	out := make([]models.Image, 0, len(entries))
	for _, e := range entries {
		if e.Type != "file" || !IsImageName(e.Name) {
			continue
		}
		url := e.DownloadURL
		if url == "" {
			url = m.store.PublicURL(e.Path)
		}
		out = append(out, models.Image{Name: e.Name, Path: e.Path, SHA: e.SHA, Size: e.Size, URL: url})
	}
	return out, nil
}

// Validate checks an upload locally. It never touches the store.
func (m *Manager) Validate(u Upload) error {
	if !strings.HasPrefix(strings.ToLower(u.MIME), "image/") {
		return apperr.NewValidation("file", fmt.Sprintf("%s is not an image (%s)", u.Name, u.MIME))
	}
	if int64(len(u.Data)) > m.maxBytes {
		return apperr.NewValidation("file", fmt.Sprintf("%s is %s, images may not exceed %s",
			u.Name, humanize.IBytes(uint64(len(u.Data))), humanize.IBytes(uint64(m.maxBytes))))
	}
	return nil
}

// Upload stores one image under a timestamped, sanitized name.
func (m *Manager) Upload(ctx context.Context, u Upload) (models.Image, error) {
	if err := m.Validate(u); err != nil {
		return models.Image{}, err
	}
	filename := fmt.Sprintf("%d-%s", m.now().UnixMilli(), Sanitize(u.Name))
	p := path.Join(m.dir, filename)
	file, err := m.store.Put(ctx, p, u.Data, "Upload image: "+filename, "")
	if err != nil {
		return models.Image{}, err
	}
	url := file.DownloadURL
	if url == "" {
		url = m.store.PublicURL(p)
	}
	return models.Image{Name: u.Name, Path: p, SHA: file.SHA, Size: file.Size, URL: url}, nil
}

// UploadMany uploads sequentially and stops at the first failure, returning
// what was uploaded before it.
func (m *Manager) UploadMany(ctx context.Context, uploads []Upload) ([]models.Image, error) {
	out := make([]models.Image, 0, len(uploads))
	for _, u := range uploads {
		img, err := m.Upload(ctx, u)
		if err != nil {
			return out, err
		}
		out = append(out, img)
	}
	return out, nil
}

// Delete removes the image at p, which must lie inside the image directory.
func (m *Manager) Delete(ctx context.Context, p, sha string) error {
	p = contents.CleanPath(p)
	if !strings.HasPrefix(p, m.dir+"/") {
		return apperr.NewValidation("path", fmt.Sprintf("%s is outside %s/", p, m.dir))
	}
	if sha == "" {
		return apperr.NewValidation("sha", "required")
	}
	return m.store.Delete(ctx, p, sha, "Delete image: "+path.Base(p))
}

// Sanitize replaces every character outside [a-zA-Z0-9.-] with '_'.
func Sanitize(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// IsImageName reports whether name has a known image extension.
func IsImageName(name string) bool {
	return imageExts[strings.ToLower(path.Ext(name))]
}
