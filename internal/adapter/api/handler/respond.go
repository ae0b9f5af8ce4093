package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
}

func respondWithJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to write JSON response", "error", err)
	}
}

func respondWithError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	respondWithJSON(w, logger, status, errorResponse{Error: message})
}

// respondWithDomainError maps domain errors onto HTTP statuses.
func respondWithDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrBadInput):
		msg := err.Error()
		if _, detail, ok := strings.Cut(msg, domain.ErrBadInput.Error()+": "); ok {
			msg = detail
		}
		respondWithError(w, logger, http.StatusBadRequest, msg)
	case errors.Is(err, domain.ErrUnauthorized):
		respondWithError(w, logger, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, domain.ErrForbidden):
		respondWithError(w, logger, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrNotFound):
		respondWithError(w, logger, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		respondWithError(w, logger, http.StatusConflict, "device token already in use")
	case errors.Is(err, domain.ErrStorageUnavailable):
		logger.Warn("storage unavailable", "path", r.URL.Path, "error", err)
		respondWithError(w, logger, http.StatusServiceUnavailable, "query unavailable")
	default:
		logger.Error("request failed", "path", r.URL.Path, "error", err)
		respondWithError(w, logger, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON reads a size-limited JSON body. It reports false after writing the error response.
func decodeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respondWithError(w, logger, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		respondWithError(w, logger, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
