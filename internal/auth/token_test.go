package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestIssuer() *TokenIssuer {
	return NewTokenIssuer("access-secret", "refresh-secret")
}

func TestTokenIssuer_AccessRoundTrip(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer()
	token, err := issuer.IssueAccess("user-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := issuer.Verify(token, AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)
}

func TestTokenIssuer_RefreshRoundTrip(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer()
	token, err := issuer.IssueRefresh("user-2")
	require.NoError(t, err)

	userID, err := issuer.Verify(token, RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "user-2", userID)
}

func TestTokenIssuer_ExpiredToken(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer()
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := issuer.IssueAccess("user-3")
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.Verify(token, AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenIssuer_KindsUseIndependentSecrets(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer()
	accessToken, err := issuer.IssueAccess("user-4")
	require.NoError(t, err)

	// An access token presented on the refresh path must fail outright,
	// not be mistaken for an expired refresh token.
	_, err = issuer.Verify(accessToken, RefreshToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenIssuer_WrongSecret(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer()
	token, err := issuer.IssueAccess("user-5")
	require.NoError(t, err)

	other := NewTokenIssuer("different-secret", "refresh-secret")
	_, err = other.Verify(token, AccessToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenIssuer_MalformedToken(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer()
	_, err := issuer.Verify("not.a.jwt", AccessToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenIssuer_SameTypeWrongSecretNeverExpiredError(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer()
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := issuer.IssueAccess("user-6")
	require.NoError(t, err)

	// Signature failure wins over expiry: an attacker must not learn
	// whether a forged token would otherwise have been fresh.
	other := NewTokenIssuer("different-secret", "refresh-secret")
	_, err = other.Verify(expired, AccessToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}
