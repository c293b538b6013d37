// Package editor holds the post editing session: which view is open, the
// post being edited, its draft and the last status message. A Session is
// owned by one editing UI; its actions run one at a time.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/drafts"
	"github.com/starford/inkwell/internal/images"
	"github.com/starford/inkwell/internal/localstore"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/postindex"
	"github.com/starford/inkwell/internal/posts"
	"github.com/starford/inkwell/internal/sse"
)

// Mode is the view the session is in.
type Mode string

const (
	ModeSetup     Mode = "setup"
	ModeList      Mode = "list"
	ModeNew       Mode = "new"
	ModeEdit      Mode = "edit"
	ModeImages    Mode = "images"
	ModeTemplates Mode = "templates"
)

// StatusKind classifies the status message.
type StatusKind string

const (
	StatusLoading StatusKind = "loading"
	StatusSuccess StatusKind = "success"
	StatusError   StatusKind = "error"
)

// Status is the single visible message of the session.
type Status struct {
	Kind StatusKind `json:"kind,omitempty"`
	Text string     `json:"text,omitempty"`
}

// Current is the post open in the new or edit view.
type Current struct {
	Post      models.Post `json:"post"`
	Content   string      `json:"content"`
	IsNew     bool        `json:"is_new"`
	FromDraft bool        `json:"from_draft"`
}

// DraftKey returns the local storage key of the current buffer.
func (c *Current) DraftKey() string {
	if c.IsNew {
		return localstore.DraftKey("")
	}
	return localstore.DraftKey(c.Post.Slug)
}

// Snapshot is an immutable view of the session.
type Snapshot struct {
	Mode      Mode     `json:"mode"`
	Current   *Current `json:"current,omitempty"`
	Status    Status   `json:"status"`
	HasToken  bool     `json:"has_token"`
	PostCount int      `json:"post_count"`
}

// Credentials supplies and stores the store token.
type Credentials interface {
	HasToken() bool
	SetToken(tok string) error
	ClearToken() error
}

// Publisher receives session events.
type Publisher interface {
	Publish(sse.Event)
	PublishPost(kind, slug string)
}

// Deps are the collaborators of a Session.
type Deps struct {
	Posts     *posts.Service
	Images    *images.Manager
	Drafts    *drafts.Autosaver
	Templates []Template
	// Credentials is nil for stores that need no token.
	Credentials Credentials
	Events      Publisher
}

// Session is one editing session.
type Session struct {
	deps Deps

	busy sync.Mutex // held for the duration of an action

	mu       sync.RWMutex
	mode     Mode
	current  *Current
	status   Status
	allPosts []models.Post
	images   []models.Image
}

// NewSession creates a session in list mode.
func NewSession(deps Deps) *Session {
	if deps.Templates == nil {
		deps.Templates = BuiltinTemplates()
	}
	return &Session{deps: deps, mode: ModeList}
}

// begin serializes actions. The returned func ends the action.
func (s *Session) begin() (func(), error) {
	if !s.busy.TryLock() {
		return nil, apperr.ErrBusy
	}
	return s.busy.Unlock, nil
}

// detach keeps remote calls running when the caller goes away.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (s *Session) setStatus(kind StatusKind, text string) {
	s.mu.Lock()
	s.status = Status{Kind: kind, Text: text}
	s.mu.Unlock()
}

// fail records err as the status and returns it. Mode and current post
// are left as they were.
func (s *Session) fail(action string, err error) error {
	s.setStatus(StatusError, fmt.Sprintf("%s failed: %s", action, err.Error()))
	slog.Warn("editor action failed", slog.String("action", action), slog.String("error", err.Error()))
	return err
}

func (s *Session) publish(typ string, data any) {
	if s.deps.Events != nil {
		s.deps.Events.Publish(sse.Event{Type: typ, Data: data})
	}
}

func (s *Session) publishPost(kind, slug string) {
	if s.deps.Events != nil {
		s.deps.Events.PublishPost(kind, slug)
	}
}

func (s *Session) hasToken() bool {
	return s.deps.Credentials == nil || s.deps.Credentials.HasToken()
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Mode:      s.mode,
		Status:    s.status,
		HasToken:  s.hasToken(),
		PostCount: len(s.allPosts),
	}
	if !snap.HasToken {
		snap.Mode = ModeSetup
	}
	if s.current != nil {
		c := *s.current
		c.Post = c.Post.Clone()
		snap.Current = &c
	}
	return snap
}

// SetToken stores the store credential.
func (s *Session) SetToken(tok string) error {
	if s.deps.Credentials == nil {
		return nil
	}
	if strings.TrimSpace(tok) == "" {
		return apperr.NewValidation("token", "cannot be blank")
	}
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()
	if err := s.deps.Credentials.SetToken(tok); err != nil {
		return s.fail("save token", err)
	}
	s.setStatus(StatusSuccess, "token saved")
	return nil
}

// ClearToken logs out: the credential is forgotten and the session returns
// to the setup view.
func (s *Session) ClearToken() error {
	if s.deps.Credentials == nil {
		return nil
	}
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()
	if err := s.deps.Credentials.ClearToken(); err != nil {
		return s.fail("logout", err)
	}
	s.mu.Lock()
	s.mode = ModeList
	s.current = nil
	s.allPosts = nil
	s.images = nil
	s.status = Status{Kind: StatusSuccess, Text: "logged out"}
	s.mu.Unlock()
	return nil
}

// Refresh reloads the index and returns to the list view.
func (s *Session) Refresh(ctx context.Context) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()

	s.setStatus(StatusLoading, "loading posts")
	snap, err := s.deps.Posts.List(detach(ctx))
	if err != nil {
		return s.fail("load posts", err)
	}
	s.mu.Lock()
	s.allPosts = snap.Value
	s.mode = ModeList
	s.current = nil
	s.status = Status{Kind: StatusSuccess, Text: fmt.Sprintf("%d posts", len(snap.Value))}
	s.mu.Unlock()
	return nil
}

// Posts filters and sorts the cached index. term matches title, category
// and tags case-insensitively. order is one of date-desc (default),
// date-asc, title-asc and title-desc.
func (s *Session) Posts(term, order string) []models.Post {
	s.mu.RLock()
	all := make([]models.Post, len(s.allPosts))
	for i, p := range s.allPosts {
		all[i] = p.Clone()
	}
	s.mu.RUnlock()
	return FilterPosts(all, term, order)
}

// FilterPosts applies the list view's search and sort to posts.
func FilterPosts(all []models.Post, term, order string) []models.Post {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]models.Post, 0, len(all))
	for _, p := range all {
		if term == "" || matches(p, term) {
			out = append(out, p)
		}
	}
	switch order {
	case "date-asc":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	case "title-asc":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	case "title-desc":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Title > out[j].Title })
	default:
		postindex.Sort(out)
	}
	return out
}

func matches(p models.Post, term string) bool {
	if strings.Contains(strings.ToLower(p.Title), term) || strings.Contains(strings.ToLower(p.Category), term) {
		return true
	}
	for _, t := range p.Tags {
		if strings.Contains(strings.ToLower(t), term) {
			return true
		}
	}
	return false
}

// OpenNew opens the new-post view, restoring an unsaved draft if present.
func (s *Session) OpenNew() (*Current, error) {
	done, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	cur := &Current{IsNew: true, Post: models.Post{Tags: []string{}}}
	if err := s.hydrate(cur, ""); err != nil {
		return nil, s.fail("open draft", err)
	}
	s.open(ModeNew, cur)
	return cur, nil
}

// OpenEdit loads slug into the edit view. The buffer comes from the draft
// if one exists, else from the stored markdown, else it is empty.
func (s *Session) OpenEdit(ctx context.Context, slug string) (*Current, error) {
	done, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	s.setStatus(StatusLoading, "loading "+slug)
	d, err := s.deps.Posts.Get(detach(ctx), slug)
	if err != nil {
		return nil, s.fail("load post", err)
	}
	if d.Indexed && d.SHA == "" {
		slog.Warn("post has no markdown file", slog.String("slug", slug))
	}
	cur := &Current{Post: d.Post}
	if err := s.hydrate(cur, d.Content); err != nil {
		return nil, s.fail("open draft", err)
	}
	s.open(ModeEdit, cur)
	return cur, nil
}

func (s *Session) hydrate(cur *Current, remote string) error {
	cur.Content = remote
	if s.deps.Drafts == nil {
		return nil
	}
	text, ok, err := s.deps.Drafts.Load(cur.DraftKey())
	if err != nil {
		return err
	}
	if ok {
		cur.Content = text
		cur.FromDraft = true
	}
	return nil
}

func (s *Session) open(mode Mode, cur *Current) {
	s.mu.Lock()
	s.mode = mode
	s.current = cur
	if cur.FromDraft {
		s.status = Status{Kind: StatusSuccess, Text: "restored unsaved draft"}
	} else {
		s.status = Status{}
	}
	s.mu.Unlock()
}

// UpdateContent replaces the edit buffer and schedules a draft save.
func (s *Session) UpdateContent(text string) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return apperr.NewValidation("mode", "no post is open")
	}
	s.current.Content = text
	key := s.current.DraftKey()
	s.mu.Unlock()

	if s.deps.Drafts != nil {
		s.deps.Drafts.Touch(key, text)
	}
	return nil
}

// Save writes the open post. An empty in.Content means the edit buffer.
// On success the draft is cleared and the session returns to the list.
// On failure the mode, buffer and draft are kept.
func (s *Session) Save(ctx context.Context, in posts.Input) (models.Post, error) {
	done, err := s.begin()
	if err != nil {
		return models.Post{}, err
	}
	defer done()

	s.mu.RLock()
	if s.current == nil {
		s.mu.RUnlock()
		return models.Post{}, s.fail("save", apperr.NewValidation("mode", "no post is open"))
	}
	cur := *s.current
	s.mu.RUnlock()

	if in.Content == "" {
		in.Content = cur.Content
	}
	s.setStatus(StatusLoading, "saving")

	var saved models.Post
	if cur.IsNew {
		saved, err = s.deps.Posts.Create(detach(ctx), in)
	} else {
		saved, err = s.deps.Posts.Update(detach(ctx), cur.Post, in)
	}
	if err != nil {
		return models.Post{}, s.fail("save", err)
	}

	if s.deps.Drafts != nil {
		if err := s.deps.Drafts.Discard(cur.DraftKey()); err != nil {
			slog.Warn("discard draft failed", slog.String("key", cur.DraftKey()), slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	next, _ := postindex.Upsert(saved)(clonePosts(s.allPosts))
	postindex.Sort(next)
	s.allPosts = next
	s.mode = ModeList
	s.current = nil
	s.status = Status{Kind: StatusSuccess, Text: "saved " + saved.Title}
	s.mu.Unlock()

	s.publishPost(sse.PostSaved, saved.Slug)
	return saved, nil
}

// Cancel leaves the editor for the list. With discard the draft is deleted.
func (s *Session) Cancel(discard bool) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()

	s.mu.Lock()
	cur := s.current
	s.mode = ModeList
	s.current = nil
	s.status = Status{}
	s.mu.Unlock()

	if discard && cur != nil && s.deps.Drafts != nil {
		if err := s.deps.Drafts.Discard(cur.DraftKey()); err != nil {
			return s.fail("discard draft", err)
		}
	}
	return nil
}

// Delete removes one post.
func (s *Session) Delete(ctx context.Context, slug string) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()

	s.setStatus(StatusLoading, "deleting "+slug)
	if err := s.deps.Posts.Delete(detach(ctx), slug); err != nil {
		return s.fail("delete", err)
	}
	s.afterDelete([]string{slug})
	s.setStatus(StatusSuccess, "deleted "+slug)
	return nil
}

// BatchDelete removes several posts with a single index write.
func (s *Session) BatchDelete(ctx context.Context, slugs []string) ([]string, error) {
	done, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	s.setStatus(StatusLoading, fmt.Sprintf("deleting %d posts", len(slugs)))
	deleted, err := s.deps.Posts.DeleteMany(detach(ctx), slugs)
	s.afterDelete(deleted)
	if err != nil {
		return deleted, s.fail("batch delete", err)
	}
	s.setStatus(StatusSuccess, fmt.Sprintf("deleted %d posts", len(deleted)))
	return deleted, nil
}

func (s *Session) afterDelete(slugs []string) {
	if len(slugs) == 0 {
		return
	}
	s.mu.Lock()
	next, _ := postindex.RemoveAll(slugs...)(clonePosts(s.allPosts))
	s.allPosts = next
	if s.current != nil && !s.current.IsNew {
		for _, slug := range slugs {
			if s.current.Post.Slug == slug {
				s.current = nil
				s.mode = ModeList
				break
			}
		}
	}
	s.mu.Unlock()

	for _, slug := range slugs {
		if s.deps.Drafts != nil {
			key := localstore.DraftKey(slug)
			if err := s.deps.Drafts.Discard(key); err != nil {
				slog.Warn("discard draft failed", slog.String("key", key), slog.String("error", err.Error()))
			}
		}
		s.publishPost(sse.PostDeleted, slug)
	}
}

// OpenImages lists the stored images and switches to the image view.
func (s *Session) OpenImages(ctx context.Context) ([]models.Image, error) {
	done, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	s.setStatus(StatusLoading, "loading images")
	list, err := s.deps.Images.List(detach(ctx))
	if err != nil {
		return nil, s.fail("load images", err)
	}
	s.mu.Lock()
	s.images = list
	s.mode = ModeImages
	s.status = Status{Kind: StatusSuccess, Text: fmt.Sprintf("%d images", len(list))}
	s.mu.Unlock()
	return list, nil
}

// UploadImages uploads files one by one. When a post is open, markdown
// references to the uploaded images are appended to its buffer.
func (s *Session) UploadImages(ctx context.Context, uploads []images.Upload) ([]models.Image, error) {
	done, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	s.setStatus(StatusLoading, fmt.Sprintf("uploading %d images", len(uploads)))
	uploaded, err := s.deps.Images.UploadMany(detach(ctx), uploads)
	for _, img := range uploaded {
		s.publish(sse.ImageUploaded, img)
	}
	if len(uploaded) > 0 {
		s.appendImages(uploaded)
	}
	if err != nil {
		return uploaded, s.fail("upload", err)
	}
	s.setStatus(StatusSuccess, fmt.Sprintf("uploaded %d images", len(uploaded)))
	return uploaded, nil
}

func (s *Session) appendImages(uploaded []models.Image) {
	refs := make([]string, len(uploaded))
	for i, img := range uploaded {
		refs[i] = img.Markdown()
	}
	s.mu.Lock()
	s.images = append(s.images, uploaded...)
	if s.current == nil {
		s.mu.Unlock()
		return
	}
	text := s.current.Content
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n\n"
	}
	text += strings.Join(refs, "\n\n")
	s.current.Content = text
	key := s.current.DraftKey()
	s.mu.Unlock()

	if s.deps.Drafts != nil {
		s.deps.Drafts.Touch(key, text)
	}
}

// DeleteImage removes one image.
func (s *Session) DeleteImage(ctx context.Context, path, sha string) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()

	if err := s.deps.Images.Delete(detach(ctx), path, sha); err != nil {
		return s.fail("delete image", err)
	}
	s.mu.Lock()
	kept := s.images[:0]
	for _, img := range s.images {
		if img.Path != path {
			kept = append(kept, img)
		}
	}
	s.images = kept
	s.status = Status{Kind: StatusSuccess, Text: "deleted " + path}
	s.mu.Unlock()
	s.publish(sse.ImageDeleted, map[string]string{"path": path})
	return nil
}

// OpenTemplates switches to the template picker.
func (s *Session) OpenTemplates() ([]Template, error) {
	done, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	s.mu.Lock()
	s.mode = ModeTemplates
	s.status = Status{}
	s.mu.Unlock()
	return s.Templates(), nil
}

// Templates returns the available templates.
func (s *Session) Templates() []Template {
	out := make([]Template, len(s.deps.Templates))
	copy(out, s.deps.Templates)
	return out
}

// ApplyTemplate opens the new-post view prefilled from template name. An
// unsaved new-post draft takes precedence over the template.
func (s *Session) ApplyTemplate(name string) (*Current, error) {
	done, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	var tpl *Template
	for i := range s.deps.Templates {
		if s.deps.Templates[i].Name == name {
			tpl = &s.deps.Templates[i]
			break
		}
	}
	if tpl == nil {
		return nil, s.fail("apply template", fmt.Errorf("template %q: %w", name, apperr.ErrNotFound))
	}

	cur := &Current{IsNew: true, Post: models.Post{
		Title:    tpl.Title,
		Category: tpl.Category,
		Tags:     append([]string{}, tpl.Tags...),
	}}
	if err := s.hydrate(cur, tpl.Body); err != nil {
		return nil, s.fail("open draft", err)
	}
	s.open(ModeNew, cur)
	if cur.FromDraft {
		s.setStatus(StatusSuccess, "kept unsaved draft instead of template "+name)
	}
	return cur, nil
}

// Images returns the cached image listing.
func (s *Session) Images() []models.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Image, len(s.images))
	copy(out, s.images)
	return out
}

func clonePosts(in []models.Post) []models.Post {
	out := make([]models.Post, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

// IsBusy reports whether err means another action was in flight.
func IsBusy(err error) bool { return errors.Is(err, apperr.ErrBusy) }
