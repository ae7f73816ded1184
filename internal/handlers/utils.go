package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/watchroom/backend/internal/ledger"
	"github.com/watchroom/backend/internal/logging"
	"github.com/watchroom/backend/internal/models"
	"github.com/watchroom/backend/internal/session"
)

// writeJSON serializes data as JSON and writes it to the response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response. If no context/error provided, just writes the response.
// For simple client errors (400-level), use: writeError(w, status, msg)
// For server errors with cause, use: writeErrorWithCause(ctx, w, status, msg, err)
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: message})
}

// writeErrorWithCause writes an error response and logs the error with stack trace.
// Use this for server errors (500-level) where you have an underlying error to log.
func writeErrorWithCause(ctx context.Context, w http.ResponseWriter, status int, message string, err error) {
	writeError(w, status, message)

	// Don't log 401/403 - handled by security event logging
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return
	}

	if status >= 400 && err != nil {
		wrappedErr := logging.WrapError(err, message)
		logging.LogErrorWithStatus(ctx, status, "error response", wrappedErr)
	}
}

// writeDomainError maps session and ledger sentinel errors onto HTTP
// statuses. Anything unrecognized is a 500 with the cause logged.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound) || errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, session.ErrForbidden) || errors.Is(err, ledger.ErrForbidden):
		writeError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, session.ErrInvalidCommand) || errors.Is(err, ledger.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, session.ErrDuplicateSession) || errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusTooManyRequests, "session is busy, retry shortly")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "request cancelled")
	default:
		writeErrorWithCause(ctx, w, http.StatusInternalServerError, "internal error", err)
	}
}
