package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func doGet(t *testing.T, handlerFunc http.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	recorder := httptest.NewRecorder()
	handlerFunc(recorder, req)
	return recorder
}

func decodeSessions(t *testing.T, recorder *httptest.ResponseRecorder) []Record {
	t.Helper()
	var payload struct {
		Success  bool     `json:"success"`
		Sessions []Record `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.True(t, payload.Success)
	return payload.Sessions
}

func TestHandler_ListFilters(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	now := time.Now().UTC()
	store.addActive("u1", "Ana Torres", "ana@x.com", now.Add(-time.Hour))
	store.addActive("u2", "Omar Lin", "omar@x.com", now.Add(-30*time.Minute))

	handler := NewHandler(store)

	recorder := doGet(t, handler.List, "/sessions?search=ANA")
	require.Equal(t, http.StatusOK, recorder.Code)
	sessions := decodeSessions(t, recorder)
	require.Len(t, sessions, 1)
	require.Equal(t, "u1", sessions[0].UserID)

	recorder = doGet(t, handler.List, "/sessions?userId=u2&status=active")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, decodeSessions(t, recorder), 1)

	recorder = doGet(t, handler.List, "/sessions?from="+now.Add(-45*time.Minute).Format(time.RFC3339))
	require.Equal(t, http.StatusOK, recorder.Code)
	sessions = decodeSessions(t, recorder)
	require.Len(t, sessions, 1)
	require.Equal(t, "u2", sessions[0].UserID)
}

func TestHandler_ListRejectsBadParams(t *testing.T) {
	t.Parallel()

	handler := NewHandler(&memStore{})

	recorder := doGet(t, handler.List, "/sessions?status=paused")
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = doGet(t, handler.List, "/sessions?from=yesterday")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHandler_ActiveDurationsAreLive(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	store.addActive("u1", "Ana", "ana@x.com", time.Now().UTC().Add(-2*time.Minute))

	handler := NewHandler(store)
	recorder := doGet(t, handler.ListActive, "/sessions/active")
	require.Equal(t, http.StatusOK, recorder.Code)

	sessions := decodeSessions(t, recorder)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].DurationMs)
	// Recomputed at read time, not the zero-value cache the record carries.
	require.GreaterOrEqual(t, *sessions[0].DurationMs, int64(119_000))
}

func TestHandler_Stats(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	now := time.Now().UTC()
	store.addActive("u1", "Ana", "ana@x.com", now.Add(-time.Minute))
	store.addActive("u2", "Omar", "omar@x.com", now.Add(-3*time.Minute))

	handler := NewHandler(store)
	recorder := doGet(t, handler.Stats, "/sessions/stats")
	require.Equal(t, http.StatusOK, recorder.Code)

	var payload struct {
		Success bool  `json:"success"`
		Stats   Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.True(t, payload.Success)
	require.EqualValues(t, 2, payload.Stats.TotalSessions)
	require.EqualValues(t, 2, payload.Stats.ActiveSessions)
	require.Greater(t, payload.Stats.TotalActiveDurationMs, int64(0))
	require.Greater(t, payload.Stats.AvgActiveDurationMs, float64(0))
}
