package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"slotsync/backend/internal/calendar"
	"slotsync/backend/internal/service"
	"slotsync/backend/internal/store"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

// statusFor maps engine errors onto HTTP statuses and the message safe to return.
func statusFor(err error) (int, string) {
	var vErr *service.ValidationError
	var cErr *service.ConfigError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, vErr.Error()
	case errors.As(err, &cErr):
		return http.StatusPreconditionFailed, cErr.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, store.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency key was already used for a different request"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, calendar.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "calendar provider unavailable, retry later"
	}
	return http.StatusInternalServerError, "internal error"
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, op string, err error, attrs ...any) {
	status, msg := statusFor(err)
	args := append([]any{slog.String("op", op), slog.Int("status", status), slog.Any("err", err)}, attrs...)
	if status >= http.StatusInternalServerError {
		a.log.ErrorContext(r.Context(), "request failed", args...)
	} else {
		a.log.InfoContext(r.Context(), "request rejected", args...)
	}
	respondError(w, status, msg)
}
