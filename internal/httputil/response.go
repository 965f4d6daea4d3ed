// Package httputil contains shared HTTP utilities for consistent response formatting across handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/nadmax/tickler/internal/apperr"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func WriteJSONError(w http.ResponseWriter, code string, status int) {
	WriteJSON(w, status, map[string]string{
		"error": code,
	})
}

// WriteError writes the stable code of err with the status of its kind.
// The wrapped cause never reaches the client.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSONError(w, apperr.CodeOf(err), apperr.HTTPStatus(apperr.KindOf(err)))
}
