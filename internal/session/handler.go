package session

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// Handler serves the admin session-query surface. Route protection (access
// token + owner role) is applied by middleware at wiring time.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// List returns session records filtered by status, user, date range, and a
// case-insensitive name/email substring.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := Filter{
		UserID: strings.TrimSpace(query.Get("userId")),
		Status: strings.TrimSpace(query.Get("status")),
		Search: strings.TrimSpace(query.Get("search")),
	}

	if filter.Status != "" && filter.Status != StatusActive && filter.Status != StatusLogout {
		writeError(w, http.StatusBadRequest, "status must be active or logout")
		return
	}

	var err error
	if filter.From, err = parseTimeParam(query.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "from must be an RFC3339 timestamp")
		return
	}
	if filter.To, err = parseTimeParam(query.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "to must be an RFC3339 timestamp")
		return
	}

	records, err := h.store.List(r.Context(), filter)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sessions": withLiveDurations(records, time.Now().UTC()),
	})
}

// ListActive returns currently-active sessions with durations computed at
// read time.
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListActive(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list active sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sessions": withLiveDurations(records, time.Now().UTC()),
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context(), time.Now().UTC())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to compute session stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   stats,
	})
}

// withLiveDurations overwrites the cached duration of active records with
// the value recomputed against now. The stored cache is never authoritative
// for an active session.
func withLiveDurations(records []Record, now time.Time) []Record {
	out := make([]Record, len(records))
	for i, record := range records {
		live := record.LiveDurationMs(now)
		record.DurationMs = &live
		out[i] = record
	}
	return out
}

func parseTimeParam(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
