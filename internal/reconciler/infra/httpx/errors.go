package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
)

// RetryAfterSeconds is sent with every 503 so senders back off before
// redelivering.
const RetryAfterSeconds = "5"

// writeDomainError maps the error taxonomy onto HTTP. Invalid transitions
// are acknowledged, permanent errors are 422 so the sender stops, and
// transient or upstream failures are 503 so it retries.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	message := err.Error()
	var de *domain.Error
	if errors.As(err, &de) {
		message = de.Message
	}

	switch domain.KindOf(err) {
	case domain.KindInvalidTransition:
		slog.InfoContext(ctx, "stale status transition acknowledged", "error", err)
		writeJSON(w, http.StatusOK, NotificationResponse{Status: "acknowledged", Applied: false})
	case domain.KindPermanent:
		slog.WarnContext(ctx, "request rejected", "code", code, "error", err)
		writeError(w, http.StatusUnprocessableEntity, code, message)
	default:
		slog.ErrorContext(ctx, "request failed, sender should retry", "code", code, "error", err)
		w.Header().Set("Retry-After", RetryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, code, message)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
