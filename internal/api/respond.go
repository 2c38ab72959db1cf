package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Priya8975/federation-engine/internal/httpsig"
	"github.com/Priya8975/federation-engine/internal/translate"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps federation errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, translate.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, translate.ErrUnsupported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, translate.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, translate.ErrForbidden),
		errors.Is(err, httpsig.ErrMissingSignature),
		errors.Is(err, httpsig.ErrInvalidSignature):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
