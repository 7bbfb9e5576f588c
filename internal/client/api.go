package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

const defaultRequestTimeout = 10 * time.Second

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrSessionExpired = errors.New("session expired")
)

// User mirrors the gateway's profile payload.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Email   string `json:"email"`
	Role    string `json:"role"`
}

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token"`
	User    User   `json:"user"`
}

// APIClient talks to the auth gateway. The refresh token travels only in
// its HTTP-only cookie, held by the client's cookie jar; the access token
// is kept in memory and mirrored to the snapshot store for the monitor.
//
// Failure policy for authenticated calls: a 401 triggers exactly one silent
// refresh attempt and one retry. If the refresh also fails the client logs
// out locally and reports ErrSessionExpired; it never loops.
type APIClient struct {
	baseURL  string
	http     *http.Client
	snapshot SnapshotStore
	window   time.Duration

	mu          sync.Mutex
	accessToken string

	now func() time.Time
}

func NewAPIClient(baseURL string, snapshot SnapshotStore, inactivityWindow time.Duration) (*APIClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if inactivityWindow <= 0 {
		inactivityWindow = defaultInactivityWindow
	}

	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Jar:     jar,
			Timeout: defaultRequestTimeout,
		},
		snapshot: snapshot,
		window:   inactivityWindow,
		now:      time.Now,
	}, nil
}

func (c *APIClient) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// Login authenticates and primes both the in-memory token and the shared
// snapshot. The refresh cookie lands in the jar as a side effect.
func (c *APIClient) Login(ctx context.Context, email, password string) (User, error) {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return User{}, fmt.Errorf("encode login request: %w", err)
	}

	resp, err := c.post(ctx, "/auth/login", payload, "")
	if err != nil {
		return User{}, err
	}
	if resp.Token == "" {
		return User{}, errors.New("login response missing token")
	}

	c.storeToken(resp.Token)
	return resp.User, nil
}

// Refresh performs the silent token renewal. Only the cookie authenticates
// this call; a missing or invalidated refresh token surfaces as
// ErrUnauthorized.
func (c *APIClient) Refresh(ctx context.Context) error {
	resp, err := c.post(ctx, "/auth/refresh-token", nil, "")
	if err != nil {
		return err
	}
	if resp.Token == "" {
		return errors.New("refresh response missing token")
	}

	c.storeToken(resp.Token)
	return nil
}

// Logout tells the server to close the session, then drops local state
// regardless of the outcome.
func (c *APIClient) Logout(ctx context.Context) error {
	_, err := c.post(ctx, "/auth/logout", nil, c.AccessToken())
	c.clearLocal()
	return err
}

func (c *APIClient) Me(ctx context.Context) (User, error) {
	resp, err := c.doAuthenticated(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return User{}, err
	}
	return resp.User, nil
}

// doAuthenticated sends a bearer-authenticated request with the single
// silent-refresh retry policy.
func (c *APIClient) doAuthenticated(ctx context.Context, method, path string, body []byte) (apiResponse, error) {
	resp, status, err := c.send(ctx, method, path, body, c.AccessToken())
	if err != nil {
		return apiResponse{}, err
	}
	if status != http.StatusUnauthorized {
		return checkStatus(resp, status)
	}

	if err := c.Refresh(ctx); err != nil {
		c.clearLocal()
		return apiResponse{}, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	resp, status, err = c.send(ctx, method, path, body, c.AccessToken())
	if err != nil {
		return apiResponse{}, err
	}
	if status == http.StatusUnauthorized {
		c.clearLocal()
		return apiResponse{}, ErrSessionExpired
	}
	return checkStatus(resp, status)
}

func (c *APIClient) post(ctx context.Context, path string, body []byte, bearer string) (apiResponse, error) {
	resp, status, err := c.send(ctx, http.MethodPost, path, body, bearer)
	if err != nil {
		return apiResponse{}, err
	}
	return checkStatus(resp, status)
}

func (c *APIClient) send(ctx context.Context, method, path string, body []byte, bearer string) (apiResponse, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apiResponse{}, 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return apiResponse{}, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	var decoded apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil && !errors.Is(err, io.EOF) {
		return apiResponse{}, httpResp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
	}
	return decoded, httpResp.StatusCode, nil
}

func checkStatus(resp apiResponse, status int) (apiResponse, error) {
	switch {
	case status >= 200 && status < 300:
		return resp, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if resp.Message != "" {
			return apiResponse{}, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Message)
		}
		return apiResponse{}, ErrUnauthorized
	default:
		if resp.Message != "" {
			return apiResponse{}, fmt.Errorf("request failed (%d): %s", status, resp.Message)
		}
		return apiResponse{}, fmt.Errorf("request failed (%d)", status)
	}
}

func (c *APIClient) storeToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()

	if c.snapshot != nil {
		_ = c.snapshot.Save(Snapshot{
			AccessToken: token,
			ExpiresAt:   c.now().Add(c.window),
		})
	}
}

func (c *APIClient) clearLocal() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()

	if c.snapshot != nil {
		_ = c.snapshot.Clear()
	}
}
