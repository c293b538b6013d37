package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/images"
	"github.com/starford/inkwell/internal/models"
)

const defaultMaxUploadBytes = 50 << 20 // 50 MB

// ListImages handles GET /api/images.
func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Session.OpenImages(r.Context())
	if err != nil {
		writeError(w, "list images", err)
		return
	}
	writeJSON(w, http.StatusOK, ImageListResponse{Images: list})
}

// UploadImages handles POST /api/images (multipart/form-data, one or more
// "file" fields). Files are uploaded in order; the first failure stops the
// batch and the images uploaded before it are still returned.
//
//	@Summary		Upload images
//	@Tags			images
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Image files"
//	@Success		201		{object}	ImageListResponse
//	@Failure		400		{object}	ImageListResponse
//	@Security		BearerAuth
//	@Router			/images [post]
func (h *Handler) UploadImages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.deps.MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}

	uploads := make([]images.Upload, 0, len(headers))
	for _, fh := range headers {
		u, err := readUpload(fh)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("failed to read "+fh.Filename))
			return
		}
		uploads = append(uploads, u)
	}

	uploaded, err := h.deps.Session.UploadImages(r.Context(), uploads)
	if uploaded == nil {
		uploaded = []models.Image{}
	}
	if err != nil {
		status := apperr.HTTPStatus(err)
		writeJSON(w, status, ImageListResponse{Images: uploaded, Error: errorResponse("upload images", status, err).Error})
		return
	}
	writeJSON(w, http.StatusCreated, ImageListResponse{Images: uploaded})
}

// readUpload reads one part. The declared content type wins; a missing or
// generic one is sniffed from the data.
func readUpload(fh *multipart.FileHeader) (images.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return images.Upload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return images.Upload{}, err
	}
	mime := fh.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return images.Upload{Name: fh.Filename, MIME: mime, Data: data}, nil
}

// DeleteImage handles DELETE /api/images/*. The image sha comes from the
// If-Match header.
func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r, "*")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	sha := strings.Trim(r.Header.Get("If-Match"), `"`)
	if sha == "" {
		writeJSON(w, http.StatusPreconditionRequired, errorBody("If-Match header with the image sha is required"))
		return
	}
	if err := h.deps.Session.DeleteImage(r.Context(), path, sha); err != nil {
		writeError(w, "delete image", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
