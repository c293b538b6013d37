package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestConflictError_IsConflict(t *testing.T) {
	err := fmt.Errorf("put index: %w", NewConflict("posts.json", ""))
	if !errors.Is(err, ErrConflict) {
		t.Fatal("wrapped ConflictError should match ErrConflict")
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Path != "posts.json" {
		t.Errorf("errors.As = %v, path = %q", ce, ce.Path)
	}
}

func TestValidationError_Message(t *testing.T) {
	err := NewValidation("title", "is required")
	if err.Error() != "title: is required" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("should match ErrValidation")
	}
}

func TestStoreError_PassesMessageThrough(t *testing.T) {
	err := &StoreError{Op: "PUT", Path: "posts.json", Status: 403, Message: "Resource not accessible by personal access token"}
	if err.Error() != "Resource not accessible by personal access token" {
		t.Errorf("Error() = %q", err.Error())
	}
	generic := &StoreError{Op: "GET", Path: "a.md", Status: 500}
	if generic.Error() != "GET a.md: 500" {
		t.Errorf("Error() = %q", generic.Error())
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NewValidation("content", "is required"), http.StatusBadRequest},
		{fmt.Errorf("get: %w", ErrNotFound), http.StatusNotFound},
		{NewConflict("x", ""), http.StatusConflict},
		{ErrSetupRequired, http.StatusPreconditionRequired},
		{ErrBusy, http.StatusLocked},
		{&StoreError{Status: 500}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
