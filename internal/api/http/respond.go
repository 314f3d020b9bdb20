package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sabi-money/sabi-server/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors to HTTP statuses. Internal errors are not
// echoed to the client.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrThresholdViolation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrAlreadyExists), errors.Is(err, model.ErrClaimConsumed):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrExpired):
		writeJSON(w, http.StatusGone, errorResponse{Error: "expired"})
	case errors.Is(err, model.ErrProviderUnavailable):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "provider unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
