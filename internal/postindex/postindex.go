// Package postindex keeps the post index document in the content store.
// Every change is a read-modify-write guarded by the sha that was read:
// fetch, decode, apply one mutation, sort, put. A conflict on put is
// returned to the caller as is; nothing is retried or merged.
package postindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/contents"
	"github.com/starford/inkwell/internal/models"
)

// DefaultPath is where the index lives in the repository.
const DefaultPath = "posts.json"

// Mutation applies one logical change to a decoded index.
type Mutation func(posts []models.Post) ([]models.Post, error)

// Synchronizer reads and writes the index at one path.
type Synchronizer struct {
	store contents.Store
	path  string
}

// New creates a Synchronizer. An empty path means DefaultPath.
func New(store contents.Store, path string) *Synchronizer {
	if path == "" {
		path = DefaultPath
	}
	return &Synchronizer{store: store, path: contents.CleanPath(path)}
}

// Path returns the repository path of the index.
func (s *Synchronizer) Path() string { return s.path }

// Load fetches the current index and its version. A missing index is an
// empty one with an empty version.
func (s *Synchronizer) Load(ctx context.Context) (models.Versioned[[]models.Post], error) {
	file, err := s.store.Get(ctx, s.path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.Versioned[[]models.Post]{Value: []models.Post{}}, nil
		}
		return models.Versioned[[]models.Post]{}, err
	}
	posts, err := Decode(file.Content)
	if err != nil {
		return models.Versioned[[]models.Post]{}, err
	}
	return models.Versioned[[]models.Post]{Value: posts, Version: file.SHA}, nil
}

// Apply runs one read-modify-write cycle and returns the index as written.
func (s *Synchronizer) Apply(ctx context.Context, message string, m Mutation) (models.Versioned[[]models.Post], error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return models.Versioned[[]models.Post]{}, err
	}
	return s.Write(ctx, snap, message, m)
}

// Write applies m to a snapshot the caller has just loaded and puts the
// result using the snapshot's version.
func (s *Synchronizer) Write(ctx context.Context, snap models.Versioned[[]models.Post], message string, m Mutation) (models.Versioned[[]models.Post], error) {
	next, err := m(normalize(snap.Value))
	if err != nil {
		return models.Versioned[[]models.Post]{}, err
	}
	data, err := Encode(next)
	if err != nil {
		return models.Versioned[[]models.Post]{}, err
	}
	file, err := s.store.Put(ctx, s.path, data, message, snap.Version)
	if err != nil {
		slog.Warn("index write failed",
			slog.String("path", s.path),
			slog.String("version", snap.Version),
			slog.String("error", err.Error()))
		return models.Versioned[[]models.Post]{}, err
	}
	Sort(next)
	return models.Versioned[[]models.Post]{Value: normalize(next), Version: file.SHA}, nil
}

// Insert adds p. An existing record with the same slug is a conflict.
func Insert(p models.Post) Mutation {
	return func(posts []models.Post) ([]models.Post, error) {
		if Find(posts, p.Slug) >= 0 {
			return nil, apperr.NewConflict(p.Slug, fmt.Sprintf("post %q already exists in the index", p.Slug))
		}
		return append(posts, p.Clone()), nil
	}
}

// Upsert replaces the record with p's slug, or inserts p when the index has
// no such record.
func Upsert(p models.Post) Mutation {
	return func(posts []models.Post) ([]models.Post, error) {
		if i := Find(posts, p.Slug); i >= 0 {
			posts[i] = p.Clone()
			return posts, nil
		}
		return append(posts, p.Clone()), nil
	}
}

// Remove drops the record with slug. A missing record is not an error.
func Remove(slug string) Mutation {
	return RemoveAll(slug)
}

// RemoveAll drops every record whose slug is in slugs.
func RemoveAll(slugs ...string) Mutation {
	drop := make(map[string]struct{}, len(slugs))
	for _, s := range slugs {
		drop[s] = struct{}{}
	}
	return func(posts []models.Post) ([]models.Post, error) {
		out := posts[:0]
		for _, p := range posts {
			if _, ok := drop[p.Slug]; !ok {
				out = append(out, p)
			}
		}
		return out, nil
	}
}

// Chain applies several mutations in order as one change.
func Chain(ms ...Mutation) Mutation {
	return func(posts []models.Post) ([]models.Post, error) {
		var err error
		for _, m := range ms {
			if posts, err = m(posts); err != nil {
				return nil, err
			}
		}
		return posts, nil
	}
}

// Find returns the position of slug in posts, or -1.
func Find(posts []models.Post, slug string) int {
	for i, p := range posts {
		if p.Slug == slug {
			return i
		}
	}
	return -1
}
