// Package httputil writes JSON responses and maps errors to HTTP statuses.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"wms/pkg/platform/sentinel"
)

// Error codes returned in the "error" field.
const (
	CodeBadRequest  = "bad_request"
	CodeNotFound    = "not_found"
	CodeUnavailable = "service_unavailable"
	CodeInternal    = "internal_error"
)

// Error is a client-facing error with an explicit status.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// BadRequest reports invalid client input.
func BadRequest(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message}
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and writes the error body. Internal errors
// never expose their message.
func WriteError(w http.ResponseWriter, err error) {
	var httpErr *Error
	switch {
	case errors.As(err, &httpErr):
		WriteJSON(w, httpErr.Status, errorBody{Error: httpErr.Code, Description: httpErr.Message})
	case errors.Is(err, sentinel.ErrNotFound):
		WriteJSON(w, http.StatusNotFound, errorBody{Error: CodeNotFound, Description: err.Error()})
	case errors.Is(err, sentinel.ErrUnavailable):
		WriteJSON(w, http.StatusServiceUnavailable, errorBody{Error: CodeUnavailable})
	default:
		WriteJSON(w, http.StatusInternalServerError, errorBody{Error: CodeInternal})
	}
}
