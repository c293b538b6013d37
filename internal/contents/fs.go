package contents

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/checksum"
	"github.com/starford/inkwell/internal/models"
)

// FS implements Store on a local checkout of the site repository. Hashes
// are git blob ids, so they agree with what GitHub reports for the same
// bytes.
type FS struct {
	root      string // absolute path to the checkout
	publicURL string

	mu sync.Mutex // makes check-then-write atomic within the process
}

// NewFS creates a store rooted at the given directory, which must exist.
// publicURL prefixes PublicURL results; empty means site-relative URLs.
func NewFS(root, publicURL string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("contents: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("contents: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("contents: root is not a directory: %s", abs)
	}
	return &FS{root: abs, publicURL: strings.TrimSuffix(publicURL, "/")}, nil
}

// Root returns the absolute checkout directory.
func (f *FS) Root() string { return f.root }

// safePath resolves a repository path against the root and rejects any
// result that escapes it.
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("contents: absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, filepath.FromSlash(rel)))
	if err != nil {
		return "", fmt.Errorf("contents: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("contents: path escapes root: %s", rel)
	}
	return abs, nil
}

// Get reads path and its sha.
func (f *FS) Get(_ context.Context, p string) (*models.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(p)
}

func (f *FS) read(p string) (*models.RemoteFile, error) {
	abs, err := f.safePath(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("contents: get %s: %w", p, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("contents: get %s: %w", p, err)
	}
	return &models.RemoteFile{
		Path:        CleanPath(p),
		Content:     data,
		SHA:         checksum.GitBlob(data),
		Size:        int64(len(data)),
		DownloadURL: f.PublicURL(p),
	}, nil
}

// Put writes content after checking expectedSHA against the file on disk.
func (f *FS) Put(_ context.Context, p string, content []byte, _ string, expectedSHA string) (*models.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.read(p)
	switch {
	case err == nil:
		if expectedSHA == "" {
			return nil, apperr.NewConflict(p, "file already exists and no sha was supplied")
		}
		if expectedSHA != current.SHA {
			return nil, apperr.NewConflict(p, "sha does not match")
		}
	case errors.Is(err, apperr.ErrNotFound):
		if expectedSHA != "" {
			return nil, apperr.NewConflict(p, "file no longer exists")
		}
	default:
		return nil, err
	}

	abs, err := f.safePath(p)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(abs, content); err != nil {
		return nil, err
	}
	return &models.RemoteFile{
		Path:        CleanPath(p),
		Content:     content,
		SHA:         checksum.GitBlob(content),
		Size:        int64(len(content)),
		DownloadURL: f.PublicURL(p),
	}, nil
}

// Delete removes path if expectedSHA matches.
func (f *FS) Delete(_ context.Context, p, expectedSHA, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.read(p)
	if err != nil {
		return err
	}
	if expectedSHA != current.SHA {
		return apperr.NewConflict(p, "sha does not match")
	}
	abs, err := f.safePath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("contents: delete %s: %w", p, err)
	}
	return nil
}

// List returns the direct children of dir, sorted by name.
func (f *FS) List(_ context.Context, dir string) ([]models.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	base, err := f.safePath(CleanPath(dir))
	if err != nil {
		return nil, err
	}
	items, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.Entry{}, nil
		}
		return nil, fmt.Errorf("contents: list %s: %w", dir, err)
	}

	out := make([]models.Entry, 0, len(items))
	for _, d := range items {
		if strings.HasPrefix(d.Name(), ".inkwell-tmp-") {
			continue
		}
		rel := CleanPath(dir + "/" + d.Name())
		e := models.Entry{Name: d.Name(), Path: rel, Type: "file"}
		if d.IsDir() {
			e.Type = "dir"
		} else {
			data, err := os.ReadFile(filepath.Join(base, d.Name()))
			if err != nil {
				return nil, fmt.Errorf("contents: list %s: %w", dir, err)
			}
			e.SHA = checksum.GitBlob(data)
			e.Size = int64(len(data))
			e.DownloadURL = f.PublicURL(rel)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// PublicURL returns the URL the site serves path at.
func (f *FS) PublicURL(p string) string {
	return f.publicURL + "/" + CleanPath(p)
}

// writeAtomic writes content via tmp file, fsync and rename.
func writeAtomic(abs string, content []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("contents: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".inkwell-tmp-*")
	if err != nil {
		return fmt.Errorf("contents: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("contents: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("contents: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("contents: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("contents: rename: %w", err)
	}
	success = true
	return nil
}
