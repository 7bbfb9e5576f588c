package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// TokenKind selects which signing secret and lifetime a token uses.
type TokenKind int

const (
	AccessToken TokenKind = iota
	RefreshToken
)

// TokenIssuer mints and verifies the two token kinds. Access and refresh
// tokens are signed with independent secrets so one leaking does not
// compromise the other.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration

	now func() time.Time
}

func NewTokenIssuer(accessSecret, refreshSecret string) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		now:           time.Now,
	}
}

func (i *TokenIssuer) WithTTLs(accessTTL, refreshTTL time.Duration) {
	if accessTTL > 0 {
		i.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		i.refreshTTL = refreshTTL
	}
}

func (i *TokenIssuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssueAccess signs a short-lived access token carrying the user id.
func (i *TokenIssuer) IssueAccess(userID string) (string, error) {
	return i.sign(userID, tokenTypeAccess, i.accessSecret, i.accessTTL)
}

// IssueRefresh signs a long-lived refresh token carrying the user id.
func (i *TokenIssuer) IssueRefresh(userID string) (string, error) {
	return i.sign(userID, tokenTypeRefresh, i.refreshSecret, i.refreshTTL)
}

func (i *TokenIssuer) sign(userID, tokenType string, secret []byte, ttl time.Duration) (string, error) {
	now := i.now().UTC()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"typ": tokenType,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return encoded, nil
}

// Verify parses the token against the secret for the given kind and returns
// the embedded user id. Expected failures are reported as ErrTokenExpired or
// ErrTokenInvalid, never as wrapped library errors.
func (i *TokenIssuer) Verify(tokenStr string, kind TokenKind) (string, error) {
	secret := i.accessSecret
	wantType := tokenTypeAccess
	if kind == RefreshToken {
		secret = i.refreshSecret
		wantType = tokenTypeRefresh
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenInvalid
	}
	if !token.Valid {
		return "", ErrTokenInvalid
	}
	if tokenType, _ := claims["typ"].(string); tokenType != wantType {
		return "", ErrTokenInvalid
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return "", ErrTokenInvalid
	}
	return userID, nil
}
