package session

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// memStore is the in-memory Store used by the package tests.
type memStore struct {
	mu      sync.Mutex
	seq     int
	records []Record

	refreshCalls int
}

func (m *memStore) RecordLogin(ctx context.Context, userID, name, email string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	now := time.Now().UTC()
	record := Record{
		ID:          "s" + strconv.Itoa(m.seq),
		UserID:      userID,
		Name:        name,
		Email:       email,
		LoginTime:   now,
		Status:      StatusActive,
		LastUpdated: now,
	}
	m.records = append(m.records, record)
	return record, nil
}

func (m *memStore) RecordLogout(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := -1
	for i, record := range m.records {
		if record.UserID != userID || record.Status != StatusActive {
			continue
		}
		if latest < 0 || record.LoginTime.After(m.records[latest].LoginTime) {
			latest = i
		}
	}
	if latest < 0 {
		return false, nil
	}
	m.closeLocked(latest, time.Now().UTC())
	return true, nil
}

func (m *memStore) ForceLogout(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var count int64
	for i, record := range m.records {
		if record.UserID == userID && record.Status == StatusActive {
			m.closeLocked(i, now)
			count++
		}
	}
	return count, nil
}

func (m *memStore) closeLocked(i int, now time.Time) {
	duration := now.Sub(m.records[i].LoginTime).Milliseconds()
	m.records[i].LogoutTime = &now
	m.records[i].DurationMs = &duration
	m.records[i].Status = StatusLogout
	m.records[i].LastUpdated = now
}

func (m *memStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0)
	for _, record := range m.records {
		if filter.UserID != "" && record.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && record.LoginTime.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && record.LoginTime.After(filter.To) {
			continue
		}
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(record.Name), needle) &&
				!strings.Contains(strings.ToLower(record.Email), needle) {
				continue
			}
		}
		out = append(out, record)
	}
	return out, nil
}

func (m *memStore) ListActive(ctx context.Context) ([]Record, error) {
	return m.List(ctx, Filter{Status: StatusActive})
}

func (m *memStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats Stats
	var completedTotal int64
	var activeTotal int64
	for _, record := range m.records {
		stats.TotalSessions++
		switch record.Status {
		case StatusActive:
			stats.ActiveSessions++
			activeTotal += now.Sub(record.LoginTime).Milliseconds()
		case StatusLogout:
			stats.CompletedSessions++
			if record.DurationMs != nil {
				completedTotal += *record.DurationMs
			}
		}
	}
	if stats.CompletedSessions > 0 {
		stats.AvgCompletedDurationMs = float64(completedTotal) / float64(stats.CompletedSessions)
	}
	stats.TotalActiveDurationMs = activeTotal
	if stats.ActiveSessions > 0 {
		stats.AvgActiveDurationMs = float64(activeTotal) / float64(stats.ActiveSessions)
	}
	return stats, nil
}

func (m *memStore) RefreshActiveDurations(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshCalls++
	var updated int64
	for i, record := range m.records {
		if record.Status != StatusActive {
			continue
		}
		duration := now.Sub(record.LoginTime).Milliseconds()
		m.records[i].DurationMs = &duration
		m.records[i].LastUpdated = now
		updated++
	}
	return updated, nil
}

func (m *memStore) refreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCalls
}

func (m *memStore) record(i int) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[i]
}

func (m *memStore) addActive(userID, name, email string, loginTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.records = append(m.records, Record{
		ID:          "s" + strconv.Itoa(m.seq),
		UserID:      userID,
		Name:        name,
		Email:       email,
		LoginTime:   loginTime,
		Status:      StatusActive,
		LastUpdated: loginTime,
	})
}
