// Package posts implements the two-file protocol that keeps post markdown
// files and the post index consistent. The markdown file is always written
// before the index; a failure in between leaves an unlisted file, never an
// index record pointing at nothing. Nothing is rolled back.
package posts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/contents"
	"github.com/starford/inkwell/internal/markdown"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/postindex"
)

const (
	DefaultDir      = "posts"
	DefaultCategory = "技术"
)

// Input is the edit buffer handed to Create and Update.
type Input struct {
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	Content  string   `json:"content"`
}

// Validate checks the fields a save needs. It runs before any network call.
func (in Input) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required,
			validation.By(noPathSeparator)),
		validation.Field(&in.Content, validation.Required),
	)
}

func noPathSeparator(v any) error {
	s, _ := v.(string)
	if strings.ContainsAny(s, `/\`) {
		return errors.New("title may not contain / or \\")
	}
	return nil
}

// Detail is a post record together with its markdown.
type Detail struct {
	Post    models.Post `json:"post"`
	Content string      `json:"content"`
	SHA     string      `json:"sha,omitempty"`
	Indexed bool        `json:"indexed"`
}

// Config tunes a Service.
type Config struct {
	Dir             string           // markdown directory, default "posts"
	DefaultCategory string           // used when a save leaves category blank
	Now             func() time.Time // clock; dates are taken in UTC
}

// Service coordinates markdown files and the index.
type Service struct {
	store    contents.Store
	index    *postindex.Synchronizer
	dir      string
	category string
	now      func() time.Time
}

// NewService creates a post service.
func NewService(store contents.Store, index *postindex.Synchronizer, cfg Config) *Service {
	s := &Service{
		store:    store,
		index:    index,
		dir:      contents.CleanPath(cfg.Dir),
		category: cfg.DefaultCategory,
		now:      cfg.Now,
	}
	if s.dir == "" {
		s.dir = DefaultDir
	}
	if s.category == "" {
		s.category = DefaultCategory
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Store returns the content store.
func (s *Service) Store() contents.Store { return s.store }

// Index returns the underlying synchronizer.
func (s *Service) Index() *postindex.Synchronizer { return s.index }

// Dir returns the markdown directory.
func (s *Service) Dir() string { return s.dir }

// PostPath returns the markdown path of slug.
func (s *Service) PostPath(slug string) string {
	return path.Join(s.dir, slug+".md")
}

// Today returns the current UTC date as YYYY-MM-DD.
func (s *Service) Today() string {
	return s.now().UTC().Format(time.DateOnly)
}

// List returns the current index.
func (s *Service) List(ctx context.Context) (models.Versioned[[]models.Post], error) {
	return s.index.Load(ctx)
}

// Get returns the record and markdown of slug. Either half may be missing;
// when both are, the error wraps apperr.ErrNotFound.
func (s *Service) Get(ctx context.Context, slug string) (*Detail, error) {
	if err := validSlug(slug); err != nil {
		return nil, err
	}
	snap, err := s.index.Load(ctx)
	if err != nil {
		return nil, err
	}
	d := &Detail{Post: models.Post{Slug: slug, Tags: []string{}}}
	if i := postindex.Find(snap.Value, slug); i >= 0 {
		d.Post = snap.Value[i]
		d.Indexed = true
	}

	file, err := s.store.Get(ctx, s.PostPath(slug))
	switch {
	case err == nil:
		d.Content = string(file.Content)
		d.SHA = file.SHA
	case errors.Is(err, apperr.ErrNotFound):
		if !d.Indexed {
			return nil, fmt.Errorf("posts: get %s: %w", slug, apperr.ErrNotFound)
		}
	default:
		return nil, err
	}
	return d, nil
}

// Create saves a new post dated today under slug "<today>-<title>".
func (s *Service) Create(ctx context.Context, in Input) (models.Post, error) {
	in, err := s.prepare(in)
	if err != nil {
		return models.Post{}, err
	}
	today := s.Today()
	p := models.Post{
		Slug:     today + "-" + in.Title,
		Title:    in.Title,
		Date:     today,
		Category: in.Category,
		Tags:     in.Tags,
		Excerpt:  markdown.Excerpt(in.Content, markdown.ExcerptLength),
	}

	snap, err := s.index.Load(ctx)
	if err != nil {
		return models.Post{}, err
	}
	if postindex.Find(snap.Value, p.Slug) >= 0 {
		return models.Post{}, apperr.NewValidation("title",
			fmt.Sprintf("a post with slug %q already exists", p.Slug))
	}

	if _, err := s.store.Put(ctx, s.PostPath(p.Slug), []byte(in.Content), "Add post: "+p.Title, ""); err != nil {
		return models.Post{}, err
	}
	if _, err := s.index.Apply(ctx, "Update posts.json: add "+p.Title, postindex.Insert(p)); err != nil {
		s.logOrphan(p.Slug, err)
		return models.Post{}, err
	}
	slog.Info("post created", slog.String("slug", p.Slug))
	return p, nil
}

// Update saves an existing post. The slug and date of original are kept.
func (s *Service) Update(ctx context.Context, original models.Post, in Input) (models.Post, error) {
	if err := validSlug(original.Slug); err != nil {
		return models.Post{}, err
	}
	in, err := s.prepare(in)
	if err != nil {
		return models.Post{}, err
	}
	date := original.Date
	if date == "" {
		date = s.Today()
	}
	p := models.Post{
		Slug:     original.Slug,
		Title:    in.Title,
		Date:     date,
		Category: in.Category,
		Tags:     in.Tags,
		Excerpt:  markdown.Excerpt(in.Content, markdown.ExcerptLength),
	}

	mdPath := s.PostPath(p.Slug)
	sha := ""
	current, err := s.store.Get(ctx, mdPath)
	switch {
	case err == nil:
		sha = current.SHA
	case errors.Is(err, apperr.ErrNotFound):
	default:
		return models.Post{}, err
	}
	if _, err := s.store.Put(ctx, mdPath, []byte(in.Content), "Update post: "+p.Title, sha); err != nil {
		return models.Post{}, err
	}
	if _, err := s.index.Apply(ctx, "Update posts.json: update "+p.Title, postindex.Upsert(p)); err != nil {
		s.logOrphan(p.Slug, err)
		return models.Post{}, err
	}
	slog.Info("post updated", slog.String("slug", p.Slug))
	return p, nil
}

// Delete removes the markdown of slug (if present) and then its record.
func (s *Service) Delete(ctx context.Context, slug string) error {
	if err := s.deleteFile(ctx, slug); err != nil {
		return err
	}
	if _, err := s.index.Apply(ctx, "Update posts.json: delete "+slug, postindex.Remove(slug)); err != nil {
		return err
	}
	slog.Info("post deleted", slog.String("slug", slug))
	return nil
}

// DeleteMany removes the markdown files one by one and then drops all their
// records in a single index write. When a file deletion fails the records
// of the files already deleted are still removed and the error is returned.
func (s *Service) DeleteMany(ctx context.Context, slugs []string) ([]string, error) {
	slugs = dedupe(slugs)
	if len(slugs) == 0 {
		return nil, apperr.NewValidation("slugs", "nothing selected")
	}
	for _, slug := range slugs {
		if err := validSlug(slug); err != nil {
			return nil, err
		}
	}
	done := make([]string, 0, len(slugs))
	var fileErr error
	for _, slug := range slugs {
		if err := s.deleteFile(ctx, slug); err != nil {
			fileErr = err
			break
		}
		done = append(done, slug)
	}
	if len(done) == 0 {
		return nil, fileErr
	}
	msg := fmt.Sprintf("Update posts.json: delete %d posts", len(done))
	if _, err := s.index.Apply(ctx, msg, postindex.RemoveAll(done...)); err != nil {
		return nil, errors.Join(fileErr, err)
	}
	slog.Info("posts deleted", slog.Int("count", len(done)))
	return done, fileErr
}

func (s *Service) deleteFile(ctx context.Context, slug string) error {
	if err := validSlug(slug); err != nil {
		return err
	}
	mdPath := s.PostPath(slug)
	file, err := s.store.Get(ctx, mdPath)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	err = s.store.Delete(ctx, mdPath, file.SHA, "Delete post: "+slug)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}

// validSlug accepts only names that stay inside the posts directory: no
// path separators and no leading dot.
func validSlug(slug string) error {
	switch {
	case slug == "":
		return apperr.NewValidation("slug", "required")
	case strings.ContainsAny(slug, `/\`):
		return apperr.NewValidation("slug", "must not contain a path separator")
	case strings.HasPrefix(slug, "."):
		return apperr.NewValidation("slug", "must not start with a dot")
	}
	return nil
}

// prepare trims and defaults the input and validates it.
func (s *Service) prepare(in Input) (Input, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.TrimSpace(in.Category)
	if in.Category == "" {
		in.Category = s.category
	}
	in.Tags = CleanTags(in.Tags)
	if err := in.Validate(); err != nil {
		return in, toValidationError(err)
	}
	return in, nil
}

func (s *Service) logOrphan(slug string, err error) {
	slog.Warn("markdown saved but index write failed",
		slog.String("slug", slug),
		slog.String("path", s.PostPath(slug)),
		slog.String("error", err.Error()))
}

// CleanTags trims tags and drops empty ones. The result is never nil.
func CleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// SplitTags parses a comma separated tag field.
func SplitTags(field string) []string {
	return CleanTags(strings.Split(field, ","))
}

func dedupe(slugs []string) []string {
	seen := make(map[string]bool, len(slugs))
	out := make([]string, 0, len(slugs))
	for _, s := range slugs {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// toValidationError reduces ozzo field errors to a single one, title first.
func toValidationError(err error) error {
	var errs validation.Errors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return apperr.NewValidation("", err.Error())
	}
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool {
		if (fields[i] == "title") != (fields[j] == "title") {
			return fields[i] == "title"
		}
		return fields[i] < fields[j]
	})
	return apperr.NewValidation(fields[0], errs[fields[0]].Error())
}
