package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext returns the access-token subject placed by Authenticate.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}

// Authenticate verifies the bearer access token and stores its subject in
// the request context. As a side effect it opportunistically refreshes the
// user's last-login timestamp; a failure there is logged, never surfaced.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		userID, err := h.service.Issuer().Verify(tokenStr, AccessToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		if err := h.service.TouchLastLogin(r.Context(), userID); err != nil {
			h.logger.Warn("touch_last_login_failed", map[string]any{"user_id": userID, "error": err.Error()})
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireOwner gates administrative routes. It runs inside Authenticate, so
// the subject is already verified; here it is resolved to a user to check
// the role.
func (h *Handler) RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserIDFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		user, err := h.service.Me(r.Context(), userID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				writeError(w, http.StatusUnauthorized, "user no longer exists")
				return
			}
			h.logger.Error("role_check_failed", map[string]any{"user_id": userID, "error": err.Error()})
			writeError(w, http.StatusInternalServerError, "failed to verify role")
			return
		}

		if !user.IsOwner() {
			writeError(w, http.StatusForbidden, "owner role required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
