package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/editor"
	"github.com/starford/inkwell/internal/feed"
	"github.com/starford/inkwell/internal/markdown"
	"github.com/starford/inkwell/internal/posts"
	"github.com/starford/inkwell/internal/reconcile"
	"github.com/starford/inkwell/internal/sse"
)

// Deps are the collaborators of the API handlers.
type Deps struct {
	Session   *editor.Session
	Posts     *posts.Service
	Exporter  *feed.Exporter
	Reconcile reconcile.Options
	// Events is notified after a healing reconcile. May be nil.
	Events editor.Publisher
	// MaxUploadBytes bounds one multipart image upload request.
	MaxUploadBytes int64
}

// Handler holds API route handlers.
type Handler struct {
	deps Deps
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{deps: deps}
}

// pathParam extracts a URL parameter, decoding escaped characters.
func pathParam(r *http.Request, name string) string {
	raw := strings.TrimPrefix(chi.URLParam(r, name), "/")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// GetSession handles GET /api/session.
//
//	@Summary		Current editor state
//	@Tags			session
//	@Produce		json
//	@Success		200	{object}	SessionResponse
//	@Security		BearerAuth
//	@Router			/session [get]
func (h *Handler) GetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Session.Snapshot())
}

// PutToken handles PUT /api/token.
func (h *Handler) PutToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.deps.Session.SetToken(req.Token); err != nil {
		writeError(w, "save token", err)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Session.Snapshot())
}

// DeleteToken handles DELETE /api/token (logout).
func (h *Handler) DeleteToken(w http.ResponseWriter, _ *http.Request) {
	if err := h.deps.Session.ClearToken(); err != nil {
		writeError(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPosts handles GET /api/posts.
//
//	@Summary		List posts from the index
//	@Tags			posts
//	@Produce		json
//	@Param			q		query		string	false	"Match title, category or tag"
//	@Param			sort	query		string	false	"Sort order"	Enums(date-desc, date-asc, title-asc, title-desc)
//	@Param			cached	query		bool	false	"Skip reloading the index"
//	@Success		200		{object}	PostListResponse
//	@Failure		428		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/posts [get]
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	if !queryBool(r, "cached") {
		if err := h.deps.Session.Refresh(r.Context()); err != nil {
			writeError(w, "list posts", err)
			return
		}
	}
	q := r.URL.Query()
	list := h.deps.Session.Posts(q.Get("q"), q.Get("sort"))
	writeJSON(w, http.StatusOK, PostListResponse{Posts: list, Total: len(list)})
}

// DeletePost handles DELETE /api/posts/{slug}.
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	slug := pathParam(r, "slug")
	if slug == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("slug is required"))
		return
	}
	if err := h.deps.Session.Delete(r.Context(), slug); err != nil {
		writeError(w, "delete post", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BatchDelete handles POST /api/posts/batch-delete.
//
//	@Summary		Delete several posts with one index write
//	@Tags			posts
//	@Accept			json
//	@Produce		json
//	@Param			body	body		BatchDeleteRequest	true	"Slugs to delete"
//	@Success		200		{object}	BatchDeleteResponse
//	@Failure		502		{object}	BatchDeleteResponse
//	@Security		BearerAuth
//	@Router			/posts/batch-delete [post]
func (h *Handler) BatchDelete(w http.ResponseWriter, r *http.Request) {
	var req BatchDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	deleted, err := h.deps.Session.BatchDelete(r.Context(), req.Slugs)
	if deleted == nil {
		deleted = []string{}
	}
	if err != nil {
		if len(deleted) == 0 {
			writeError(w, "batch delete", err)
			return
		}
		status := apperr.HTTPStatus(err)
		writeJSON(w, status, BatchDeleteResponse{Deleted: deleted, Error: errorResponse("batch delete", status, err).Error})
		return
	}
	writeJSON(w, http.StatusOK, BatchDeleteResponse{Deleted: deleted})
}

// NewPost handles POST /api/editor/new.
func (h *Handler) NewPost(w http.ResponseWriter, _ *http.Request) {
	cur, err := h.deps.Session.OpenNew()
	if err != nil {
		writeError(w, "open editor", err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

// EditPost handles POST /api/editor/edit/{slug}.
func (h *Handler) EditPost(w http.ResponseWriter, r *http.Request) {
	slug := pathParam(r, "slug")
	if slug == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("slug is required"))
		return
	}
	cur, err := h.deps.Session.OpenEdit(r.Context(), slug)
	if err != nil {
		writeError(w, "open post", err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

// UpdateContent handles PUT /api/editor/content. The draft is written
// after the autosave delay.
func (h *Handler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.deps.Session.UpdateContent(req.Content); err != nil {
		writeError(w, "update content", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SavePost handles POST /api/editor/save.
//
//	@Summary		Save the open post (markdown first, then the index)
//	@Tags			editor
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SaveRequest	true	"Post fields"
//	@Success		200		{object}	models.Post
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		423		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/editor/save [post]
func (h *Handler) SavePost(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	saved, err := h.deps.Session.Save(r.Context(), req)
	if err != nil {
		writeError(w, "save post", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// CancelEdit handles POST /api/editor/cancel. The body is optional.
func (h *Handler) CancelEdit(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	if err := h.deps.Session.Cancel(req.Discard); err != nil {
		writeError(w, "cancel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTemplates handles GET /api/templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, _ *http.Request) {
	list, err := h.deps.Session.OpenTemplates()
	if err != nil {
		writeError(w, "list templates", err)
		return
	}
	writeJSON(w, http.StatusOK, TemplateListResponse{Templates: list})
}

// ApplyTemplate handles POST /api/templates/{name}/apply.
func (h *Handler) ApplyTemplate(w http.ResponseWriter, r *http.Request) {
	cur, err := h.deps.Session.ApplyTemplate(pathParam(r, "name"))
	if err != nil {
		writeError(w, "apply template", err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

// Preview handles POST /api/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	html, err := markdown.Render(req.Content)
	if err != nil {
		writeError(w, "preview", err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{HTML: html, Words: markdown.WordCount(req.Content)})
}

// Reconcile handles POST /api/maintenance/reconcile?heal=true.
//
//	@Summary		Compare post files with the index
//	@Tags			maintenance
//	@Produce		json
//	@Param			heal	query		bool	false	"Fix the index in one write"
//	@Success		200		{object}	reconcile.Report
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/maintenance/reconcile [post]
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	opts := h.deps.Reconcile
	opts.Heal = queryBool(r, "heal")
	report, err := reconcile.Run(r.Context(), h.deps.Posts.Store(), h.deps.Posts.Index(), opts)
	if err != nil {
		writeError(w, "reconcile", err)
		return
	}
	if report.Healed && h.deps.Events != nil {
		h.deps.Events.Publish(sse.Event{Type: sse.IndexUpdated, Data: report})
	}
	writeJSON(w, http.StatusOK, report)
}

// Export handles POST /api/export/{kind}?publish=true. Without publish the
// rendered document is returned as XML.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	kind := pathParam(r, "kind")
	res, err := h.deps.Exporter.Export(r.Context(), kind, queryBool(r, "publish"))
	if err != nil {
		writeError(w, "export "+kind, err)
		return
	}
	if res.Published {
		slog.Info("export published", slog.String("path", res.Path), slog.String("sha", res.SHA))
		writeJSON(w, http.StatusOK, res)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}
