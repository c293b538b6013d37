package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/starford/inkwell/internal/apperr"
)

const maxJSONBytes = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

type errResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError answers with the status apperr.HTTPStatus assigns to err.
// Store errors pass their message through; unexpected errors do not.
func writeError(w http.ResponseWriter, op string, err error) {
	status := apperr.HTTPStatus(err)
	writeJSON(w, status, errorResponse(op, status, err))
}

func errorResponse(op string, status int, err error) errResponse {
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("error", err.Error()))
		return errorBody("internal error")
	}
	body := errorBody(err.Error())
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	return body
}
