package api

import (
	"github.com/starford/inkwell/internal/editor"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/posts"
)

// TokenRequest is the request body for saving the store credential.
type TokenRequest struct {
	Token string `json:"token" example:"github_pat_..." validate:"required"`
}

// PostListResponse wraps the filtered post list.
type PostListResponse struct {
	Posts []models.Post `json:"posts" validate:"required"`
	Total int           `json:"total" example:"42" validate:"required"`
}

// BatchDeleteRequest names the posts to delete.
type BatchDeleteRequest struct {
	Slugs []string `json:"slugs" validate:"required"`
}

// BatchDeleteResponse lists the posts whose files were deleted. Error is set
// when the batch stopped early.
type BatchDeleteResponse struct {
	Deleted []string `json:"deleted" validate:"required"`
	Error   string   `json:"error,omitempty"`
}

// ContentRequest carries the edit buffer.
type ContentRequest struct {
	Content string `json:"content" example:"# Hello"`
}

// SaveRequest is the request body for saving the open post. An empty
// content saves the edit buffer.
type SaveRequest = posts.Input

// CancelRequest leaves the editor.
type CancelRequest struct {
	Discard bool `json:"discard"`
}

// ImageListResponse wraps image listings and upload results.
type ImageListResponse struct {
	Images []models.Image `json:"images" validate:"required"`
	Error  string         `json:"error,omitempty"`
}

// PreviewResponse is the rendered edit buffer.
type PreviewResponse struct {
	HTML  string `json:"html"`
	Words int    `json:"words" example:"120"`
}

// SessionResponse is the session snapshot.
type SessionResponse = editor.Snapshot

// TemplateListResponse wraps the available templates.
type TemplateListResponse struct {
	Templates []editor.Template `json:"templates" validate:"required"`
}
