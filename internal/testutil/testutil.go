// Package testutil provides shared test helpers for setting up stores,
// local state and a fake GitHub.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/inkwell/internal/contents"
	"github.com/starford/inkwell/internal/localstore"
)

// FSStore creates a store rooted at a temporary directory.
func FSStore(t *testing.T) (string, *contents.FS) {
	t.Helper()
	root := t.TempDir()
	store, err := contents.NewFS(root, "https://blog.example.com")
	if err != nil {
		t.Fatal(err)
	}
	return root, store
}

// LocalStore opens a temporary local key/value store that is closed on cleanup.
func LocalStore(t *testing.T) *localstore.DB {
	t.Helper()
	db, err := localstore.Open(filepath.Join(t.TempDir(), "inkwell.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// FixedClock returns a clock frozen at the given date (YYYY-MM-DD, UTC).
func FixedClock(t *testing.T, date string) func() time.Time {
	t.Helper()
	ts, err := time.Parse(time.DateOnly, date)
	if err != nil {
		t.Fatal(err)
	}
	ts = ts.Add(9 * time.Hour)
	return func() time.Time { return ts }
}
