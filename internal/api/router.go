package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Options configures the router.
type Options struct {
	// AuthEnabled controls whether Bearer token auth is enforced.
	AuthEnabled bool
	Token       string
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(h *Handler, opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(opts.AuthEnabled, opts.Token))

	// Session and credential.
	r.Get("/session", h.GetSession)
	r.Put("/token", h.PutToken)
	r.Delete("/token", h.DeleteToken)

	// Post list.
	r.Get("/posts", h.ListPosts)
	r.Post("/posts/batch-delete", h.BatchDelete)
	r.Delete("/posts/{slug}", h.DeletePost)

	// Editor.
	r.Route("/editor", func(r chi.Router) {
		r.Post("/new", h.NewPost)
		r.Post("/edit/{slug}", h.EditPost)
		r.Put("/content", h.UpdateContent)
		r.Post("/save", h.SavePost)
		r.Post("/cancel", h.CancelEdit)
	})
	r.Post("/preview", h.Preview)

	// Images.
	r.Get("/images", h.ListImages)
	r.Post("/images", h.UploadImages)
	r.Delete("/images/*", h.DeleteImage)

	// Templates.
	r.Get("/templates", h.ListTemplates)
	r.Post("/templates/{name}/apply", h.ApplyTemplate)

	// Maintenance.
	r.Post("/maintenance/reconcile", h.Reconcile)
	r.Post("/export/{kind}", h.Export)

	if opts.Events != nil {
		r.Get("/events", opts.Events.ServeHTTP)
	}

	return r
}
