package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"inventory-admin/internal/observability"
)

// SessionPruner deletes long-closed session records past retention.
type SessionPruner interface {
	PruneClosed(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// LoginAttemptPruner drops stale failed-login counters whose lock windows
// have lapsed.
type LoginAttemptPruner interface {
	PruneLoginAttempts(ctx context.Context, cutoff time.Time) (int64, error)
}

// PruneHandler is a cron-secret-guarded endpoint for scheduled cleanup of
// closed session records and stale login-attempt counters. Active sessions
// are never pruned, so the registry remains the source of truth for "who is
// active now" regardless of retention settings.
type PruneHandler struct {
	sessions         SessionPruner
	attempts         LoginAttemptPruner
	logger           *observability.Logger
	cronSecret       string
	retention        time.Duration
	attemptRetention time.Duration
	batchSize        int
}

func NewPruneHandler(
	sessions SessionPruner,
	attempts LoginAttemptPruner,
	logger *observability.Logger,
	cronSecret string,
	retention time.Duration,
	attemptRetention time.Duration,
	batchSize int,
) *PruneHandler {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	if attemptRetention <= 0 {
		attemptRetention = 7 * 24 * time.Hour
	}
	return &PruneHandler{
		sessions:         sessions,
		attempts:         attempts,
		logger:           logger,
		cronSecret:       strings.TrimSpace(cronSecret),
		retention:        retention,
		attemptRetention: attemptRetention,
		batchSize:        batchSize,
	}
}

func (h *PruneHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	now := time.Now().UTC()
	deleted, err := h.sessions.PruneClosed(r.Context(), now.Add(-h.retention), h.batchSize)
	if err != nil {
		h.logger.Error("session_prune_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "prune failed"})
		return
	}

	deletedAttempts, err := h.attempts.PruneLoginAttempts(r.Context(), now.Add(-h.attemptRetention))
	if err != nil {
		h.logger.Error("login_attempt_prune_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "prune failed"})
		return
	}

	h.logger.Info("prune_completed", map[string]any{
		"deleted_sessions":       deleted,
		"deleted_login_attempts": deletedAttempts,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                 "ok",
		"deleted_sessions":       deleted,
		"deleted_login_attempts": deletedAttempts,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
