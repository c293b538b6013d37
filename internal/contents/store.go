// Package contents is the client for the hosted-file store that holds the
// site's posts, index and images. Every overwrite and delete is guarded by
// the file's content hash (sha), which is the store's only concurrency
// control.
package contents

import (
	"context"
	"path"
	"strings"

	"github.com/starford/inkwell/internal/models"
)

// Store is the interface for remote file operations. Paths are
// repository-relative and use forward slashes.
type Store interface {
	// Get returns the current content and sha of path, or an error
	// wrapping apperr.ErrNotFound.
	Get(ctx context.Context, path string) (*models.RemoteFile, error)
	// Put creates path when expectedSHA is empty, or overwrites it when
	// expectedSHA matches the current sha. A stale or missing sha yields
	// *apperr.ConflictError.
	Put(ctx context.Context, path string, content []byte, message, expectedSHA string) (*models.RemoteFile, error)
	// Delete removes path; expectedSHA must match the current sha.
	Delete(ctx context.Context, path, expectedSHA, message string) error
	// List returns the entries of dir. A missing dir is an empty listing.
	List(ctx context.Context, dir string) ([]models.Entry, error)
	// PublicURL is the content-delivery URL of path.
	PublicURL(path string) string
}

// CleanPath normalizes a repository path: forward slashes, no leading
// slash, no "." segments.
func CleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}
