package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the registry's persistence surface. Repository implements it over
// Postgres; tests use an in-memory fake.
type Store interface {
	RecordLogin(ctx context.Context, userID, name, email string) (Record, error)
	RecordLogout(ctx context.Context, userID string) (bool, error)
	ForceLogout(ctx context.Context, userID string) (int64, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
	ListActive(ctx context.Context) ([]Record, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
	RefreshActiveDurations(ctx context.Context, now time.Time) (int64, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, user_id, name, email, login_time, logout_time, duration_ms, status, last_updated`

// RecordLogin inserts a new active record. Prior active records for the same
// user are left untouched; logging in from a second client does not close
// the first client's session.
func (r *Repository) RecordLogin(ctx context.Context, userID, name, email string) (Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, fmt.Errorf("generate session id: %w", err)
	}

	now := time.Now().UTC()
	record := Record{
		ID:          id.String(),
		UserID:      userID,
		Name:        name,
		Email:       email,
		LoginTime:   now,
		Status:      StatusActive,
		LastUpdated: now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, name, email, login_time, status, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, record.ID, record.UserID, record.Name, record.Email, record.LoginTime, record.Status, record.LastUpdated)
	if err != nil {
		return Record{}, fmt.Errorf("insert session record: %w", err)
	}

	return record, nil
}

// RecordLogout closes the user's most recent active record (latest login
// time wins a tie). Returns false when no active record exists; callers log
// that case rather than treating it as a failure.
func (r *Repository) RecordLogout(ctx context.Context, userID string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET logout_time = $2,
			duration_ms = (EXTRACT(EPOCH FROM ($2 - login_time)) * 1000)::BIGINT,
			status = $3,
			last_updated = $2
		WHERE id = (
			SELECT id FROM sessions
			WHERE user_id = $1 AND status = $4
			ORDER BY login_time DESC
			LIMIT 1
		)
	`, userID, now, StatusLogout, StatusActive)
	if err != nil {
		return false, fmt.Errorf("record logout: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record logout rows affected: %w", err)
	}
	return affected > 0, nil
}

// ForceLogout closes every active record for the user with one shared
// timestamp. Returns the number of records transitioned; zero means nothing
// to do, not an error.
func (r *Repository) ForceLogout(ctx context.Context, userID string) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET logout_time = $2,
			duration_ms = (EXTRACT(EPOCH FROM ($2 - login_time)) * 1000)::BIGINT,
			status = $3,
			last_updated = $2
		WHERE user_id = $1 AND status = $4
	`, userID, now, StatusLogout, StatusActive)
	if err != nil {
		return 0, fmt.Errorf("force logout: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("force logout rows affected: %w", err)
	}
	return affected, nil
}

func (r *Repository) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM sessions WHERE 1=1`
	args := make([]any, 0, 5)

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From.UTC())
		query += fmt.Sprintf(" AND login_time >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UTC())
		query += fmt.Sprintf(" AND login_time <= $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(" AND (name ILIKE $%d OR email ILIKE $%d)", len(args), len(args))
	}

	query += " ORDER BY login_time DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *Repository) ListActive(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM sessions
		WHERE status = $1
		ORDER BY login_time DESC
	`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Stats computes aggregate counts and durations. Active-session durations
// are computed against the supplied clock reading, not the persisted cache.
func (r *Repository) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats
	var avgCompleted sql.NullFloat64
	var totalActive sql.NullInt64
	var avgActive sql.NullFloat64

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			AVG(duration_ms) FILTER (WHERE status = $2),
			SUM((EXTRACT(EPOCH FROM ($3 - login_time)) * 1000)::BIGINT) FILTER (WHERE status = $1),
			AVG(EXTRACT(EPOCH FROM ($3 - login_time)) * 1000) FILTER (WHERE status = $1)
		FROM sessions
	`, StatusActive, StatusLogout, now.UTC()).Scan(
		&stats.TotalSessions,
		&stats.ActiveSessions,
		&stats.CompletedSessions,
		&avgCompleted,
		&totalActive,
		&avgActive,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("session stats: %w", err)
	}

	if avgCompleted.Valid {
		stats.AvgCompletedDurationMs = avgCompleted.Float64
	}
	if totalActive.Valid {
		stats.TotalActiveDurationMs = totalActive.Int64
	}
	if avgActive.Valid {
		stats.AvgActiveDurationMs = avgActive.Float64
	}
	return stats, nil
}

// RefreshActiveDurations persists now - login_time for every active record
// in one set-based update. Last-write-wins per record, so overlapping ticks
// are wasteful but never incorrect.
func (r *Repository) RefreshActiveDurations(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET duration_ms = (EXTRACT(EPOCH FROM ($1 - login_time)) * 1000)::BIGINT,
			last_updated = $1
		WHERE status = $2
	`, now.UTC(), StatusActive)
	if err != nil {
		return 0, fmt.Errorf("refresh active durations: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("refresh durations rows affected: %w", err)
	}
	return affected, nil
}

// PruneClosed deletes logout records whose logout time is older than the
// retention cutoff, in batches. Active records are never touched.
func (r *Repository) PruneClosed(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM sessions
			WHERE status = $1 AND logout_time < $2
			ORDER BY logout_time ASC
			LIMIT $3
		)
		DELETE FROM sessions t
		USING stale
		WHERE t.id = stale.id
	`, StatusLogout, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("prune closed sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune closed rows affected: %w", err)
	}
	return affected, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	records := make([]Record, 0)
	for rows.Next() {
		var record Record
		var logoutTime sql.NullTime
		var durationMs sql.NullInt64
		err := rows.Scan(
			&record.ID, &record.UserID, &record.Name, &record.Email,
			&record.LoginTime, &logoutTime, &durationMs,
			&record.Status, &record.LastUpdated,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session record: %w", err)
		}
		if logoutTime.Valid {
			value := logoutTime.Time.UTC()
			record.LogoutTime = &value
		}
		if durationMs.Valid {
			record.DurationMs = &durationMs.Int64
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("iterate session records: %w", err)
	}
	return records, nil
}
