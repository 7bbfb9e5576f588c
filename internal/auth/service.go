package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inventory-admin/internal/observability"
	"inventory-admin/internal/session"
)

const (
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrLoginLocked carries the lock deadline so the handler can tell the
// client when to retry.
type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}

// SessionLog is the slice of the session registry the gateway drives.
type SessionLog interface {
	RecordLogin(ctx context.Context, userID, name, email string) (session.Record, error)
	RecordLogout(ctx context.Context, userID string) (bool, error)
	ForceLogout(ctx context.Context, userID string) (int64, error)
}

// Service composes credential verification, token issuance, and the session
// registry into the request-level auth operations.
type Service struct {
	users    UserStore
	issuer   *TokenIssuer
	sessions SessionLog
	logger   *observability.Logger

	maxAttempts  int
	lockDuration time.Duration
}

func NewService(users UserStore, issuer *TokenIssuer, sessions SessionLog, logger *observability.Logger) *Service {
	return &Service{
		users:        users,
		issuer:       issuer,
		sessions:     sessions,
		logger:       logger,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
	}
}

// WithLockoutPolicy tunes the failed-login lockout. Non-positive values
// keep the defaults.
func (s *Service) WithLockoutPolicy(maxAttempts int, lockDuration time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
}

func (s *Service) Issuer() *TokenIssuer { return s.issuer }

// Login verifies credentials and on success issues both tokens, overwrites
// the stored refresh token, and opens a session record. Unknown email and
// wrong password both collapse into ErrInvalidCredentials so the response
// cannot be used to probe for accounts; both also count against the
// per-account failure lockout, which is keyed by email so a distributed
// brute-force against one account trips it regardless of source address.
func (s *Service) Login(ctx context.Context, email, password string) (string, string, User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	now := time.Now().UTC()
	attempt, err := s.users.GetLoginAttempt(ctx, email)
	if err != nil {
		return "", "", User{}, err
	}
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		return "", "", User{}, ErrLoginLocked{Until: *attempt.LockedUntil}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", "", User{}, s.failedAttempt(ctx, email, now)
		}
		return "", "", User{}, err
	}

	if !VerifyPassword(password, user.PasswordHash) {
		return "", "", User{}, s.failedAttempt(ctx, email, now)
	}

	if err := s.users.ResetLoginAttempt(ctx, email); err != nil {
		return "", "", User{}, err
	}

	accessToken, err := s.issuer.IssueAccess(user.ID)
	if err != nil {
		return "", "", User{}, err
	}
	refreshToken, err := s.issuer.IssueRefresh(user.ID)
	if err != nil {
		return "", "", User{}, err
	}

	// Overwriting the stored token is what invalidates a prior device's
	// refresh path: single-active-refresh-token policy, last write wins.
	if err := s.users.SetRefreshToken(ctx, user.ID, &refreshToken); err != nil {
		return "", "", User{}, err
	}
	if err := s.users.TouchLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("touch_last_login_failed", map[string]any{"user_id": user.ID, "error": err.Error()})
	}

	if _, err := s.sessions.RecordLogin(ctx, user.ID, user.Name, user.Email); err != nil {
		return "", "", User{}, fmt.Errorf("record login session: %w", err)
	}

	return accessToken, refreshToken, user, nil
}

// failedAttempt records one failure and returns ErrLoginLocked when that
// failure crosses the threshold, ErrInvalidCredentials otherwise.
func (s *Service) failedAttempt(ctx context.Context, email string, now time.Time) error {
	lockedUntil, err := s.users.RegisterFailedAttempt(ctx, email, s.maxAttempts, s.lockDuration, now)
	if err != nil {
		return err
	}
	if lockedUntil != nil {
		return ErrLoginLocked{Until: *lockedUntil}
	}
	return ErrInvalidCredentials
}

// Logout clears the stored refresh token and closes the latest active
// session record. A second call finds nothing active; that is logged and
// still succeeds.
func (s *Service) Logout(ctx context.Context, userID string) error {
	if err := s.users.SetRefreshToken(ctx, userID, nil); err != nil && !errors.Is(err, ErrUserNotFound) {
		return err
	}

	closed, err := s.sessions.RecordLogout(ctx, userID)
	if err != nil {
		return fmt.Errorf("record logout session: %w", err)
	}
	if !closed {
		s.logger.Warn("logout_without_active_session", map[string]any{"user_id": userID})
	}
	return nil
}

// Refresh mints a new access token for a presented refresh token. The token
// must be cryptographically valid AND equal to the user's stored token; a
// superseded token replayed after a newer login fails ErrTokenInvalid even
// though its own expiry has not elapsed. The refresh token itself is not
// rotated here; only login rotates it.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, User, error) {
	userID, err := s.issuer.Verify(refreshToken, RefreshToken)
	if err != nil {
		return "", User{}, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", User{}, ErrTokenInvalid
		}
		return "", User{}, err
	}

	if user.CurrentRefreshToken == nil || *user.CurrentRefreshToken != refreshToken {
		return "", User{}, ErrTokenInvalid
	}

	accessToken, err := s.issuer.IssueAccess(user.ID)
	if err != nil {
		return "", User{}, err
	}
	return accessToken, user, nil
}

// Me returns the profile owner for a verified access token subject.
func (s *Service) Me(ctx context.Context, userID string) (User, error) {
	return s.users.GetByID(ctx, userID)
}

// ForceLogout closes every active session for the target user and clears
// their stored refresh token. Outstanding access tokens stay valid until
// their own expiry; that bounded window is accepted.
func (s *Service) ForceLogout(ctx context.Context, targetUserID string) (int64, error) {
	count, err := s.sessions.ForceLogout(ctx, targetUserID)
	if err != nil {
		return 0, fmt.Errorf("force logout sessions: %w", err)
	}

	if err := s.users.SetRefreshToken(ctx, targetUserID, nil); err != nil && !errors.Is(err, ErrUserNotFound) {
		return count, err
	}

	return count, nil
}

// TouchLastLogin refreshes the user's liveness timestamp. Failures are the
// caller's to log; this is a signal, not a security control.
func (s *Service) TouchLastLogin(ctx context.Context, userID string) error {
	return s.users.TouchLastLogin(ctx, userID, time.Now().UTC())
}
