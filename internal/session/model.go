// Package session is the durable log of login/logout events and the source
// of truth for which sessions are currently active. Persisted durations on
// active records are a cache maintained by the Scheduler; reads always
// recompute live durations from login time.
package session

import "time"

const (
	StatusActive = "active"
	StatusLogout = "logout"
)

// Record is one login-to-logout interval for a user. A user logged in from
// several clients holds several concurrently-active records.
type Record struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	LoginTime   time.Time  `json:"loginTime"`
	LogoutTime  *time.Time `json:"logoutTime,omitempty"`
	DurationMs  *int64     `json:"durationMs,omitempty"`
	Status      string     `json:"status"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

// LiveDurationMs returns the duration to report to callers: for active
// records always now - loginTime, regardless of the persisted cache.
func (r Record) LiveDurationMs(now time.Time) int64 {
	if r.Status == StatusActive {
		return now.Sub(r.LoginTime).Milliseconds()
	}
	if r.DurationMs != nil {
		return *r.DurationMs
	}
	return 0
}

// Filter narrows List queries. Zero values mean "no constraint".
type Filter struct {
	UserID string
	Status string
	From   time.Time
	To     time.Time
	// Search matches name or email, case-insensitive substring.
	Search string
}

// Stats aggregates the registry. Active totals are computed live at query
// time, never from the persisted duration cache.
type Stats struct {
	TotalSessions         int64   `json:"totalSessions"`
	ActiveSessions        int64   `json:"activeSessions"`
	CompletedSessions     int64   `json:"completedSessions"`
	AvgCompletedDurationMs float64 `json:"avgCompletedDurationMs"`
	TotalActiveDurationMs int64   `json:"totalActiveDurationMs"`
	AvgActiveDurationMs   float64 `json:"avgActiveDurationMs"`
}
