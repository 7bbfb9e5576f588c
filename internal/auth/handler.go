package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"inventory-admin/internal/observability"
)

const (
	refreshCookieName = "refreshToken"
	maxJSONBodyBytes  = 1 << 20
)

type Handler struct {
	service *Service
	logger  *observability.Logger
	// secureCookies is disabled for plain-HTTP local development only.
	secureCookies bool
}

func NewHandler(service *Service, logger *observability.Logger, secureCookies bool) *Handler {
	return &Handler{service: service, logger: logger, secureCookies: secureCookies}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forceLogoutRequest struct {
	UserID string `json:"userId"`
}

// Login verifies credentials, sets the refresh cookie, and returns the
// access token with the user profile. Bad credentials always produce the
// same generic 401 regardless of whether the email exists.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.Email = strings.TrimSpace(body.Email)
	if body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	accessToken, refreshToken, user, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		var lockedErr ErrLoginLocked
		if errors.As(err, &lockedErr) {
			retryAfter := int(time.Until(lockedErr.Until).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "Too many failed login attempts, please try again later")
			return
		}
		sentry.CaptureException(err)
		h.logger.Error("login_failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	h.setRefreshCookie(w, refreshToken)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   accessToken,
		"user":    user.Profile(),
	})
}

// Logout requires a valid access token (enforced by middleware), clears the
// stored refresh token, and closes the session record. Calling it twice is
// fine; the second call just logs that nothing was active.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), userID); err != nil {
		sentry.CaptureException(err)
		h.logger.Error("logout_failed", map[string]any{"user_id": userID, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to logout")
		return
	}

	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully",
	})
}

// Refresh reads the refresh token from its cookie only; a token presented in
// a header or body is ignored. An expired token gets a distinct message so
// the client can tell "log in again" apart from a replayed or forged token.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		writeError(w, http.StatusUnauthorized, "Refresh token not found")
		return
	}

	accessToken, user, err := h.service.Refresh(r.Context(), cookie.Value)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired):
			writeError(w, http.StatusForbidden, "Refresh token expired, please login again")
		case errors.Is(err, ErrTokenInvalid):
			writeError(w, http.StatusForbidden, "Invalid refresh token")
		default:
			sentry.CaptureException(err)
			h.logger.Error("refresh_failed", map[string]any{"error": err.Error()})
			writeError(w, http.StatusInternalServerError, "failed to refresh token")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   accessToken,
		"user":    user.Profile(),
	})
}

// Me returns the authenticated user's profile, never the password hash or
// refresh token.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
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
		sentry.CaptureException(err)
		h.logger.Error("me_failed", map[string]any{"user_id": userID, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user.Profile(),
	})
}

// ForceLogout closes all of a user's active sessions. Owner role is
// enforced by middleware; a target with nothing active is a 404 so admin
// tooling can tell "done" from "nothing to do".
func (h *Handler) ForceLogout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body forceLogoutRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.UserID = strings.TrimSpace(body.UserID)
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	count, err := h.service.ForceLogout(r.Context(), body.UserID)
	if err != nil {
		sentry.CaptureException(err)
		h.logger.Error("force_logout_failed", map[string]any{"target_user_id": body.UserID, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to force logout")
		return
	}
	if count == 0 {
		writeError(w, http.StatusNotFound, "No active sessions found for this user")
		return
	}

	h.logger.Info("force_logout", map[string]any{"target_user_id": body.UserID, "sessions_closed": count})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "All active sessions have been logged out",
	})
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.service.Issuer().RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
