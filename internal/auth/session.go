// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth manages the bearer-token session for the NLIP service.
//
// The token lives only in memory. Validity is checked locally against the
// expiry (with a safety buffer) and then confirmed with a liveness request;
// if the network check cannot complete, the token is treated as invalid.
// Authentication happens out of band: when a token is missing or stale the
// caller receives the login URL and the in-progress input is parked in the
// pending cache until the callback installs a fresh token.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/nlip-client/internal/pending"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// ExpiryBuffer is subtracted from the token lifetime: a token within
	// five minutes of expiry is treated as already expired so an
	// in-flight request cannot straddle the boundary.
	ExpiryBuffer = 5 * time.Minute

	// livenessTimeout bounds the token liveness check.
	livenessTimeout = 10 * time.Second

	// maxAuthURLSize caps the /auth response body.
	maxAuthURLSize = 16 * 1024
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrRedirecting indicates the operation cannot proceed until the user
	// completes the login flow. Use errors.Is to detect it; errors.As with
	// *RedirectError retrieves the login URL.
	ErrRedirecting = errors.New("authentication redirect required")

	// ErrNoToken indicates no token has been installed.
	ErrNoToken = errors.New("no access token")
)

// RedirectError carries the login URL the user must visit.
type RedirectError struct {
	AuthURL string
}

// Error implements the error interface.
func (e *RedirectError) Error() string {
	return "authentication required, visit " + e.AuthURL
}

// Is allows RedirectError to be compared with ErrRedirecting.
func (e *RedirectError) Is(target error) bool {
	return target == ErrRedirecting
}

// =============================================================================
// SESSION
// =============================================================================

// Session holds the in-memory bearer token and its expiry.
type Session struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time

	baseURL    string
	httpClient *http.Client
	cache      *pending.Cache
}

// NewSession creates a session for the given service base URL. The pending
// cache receives the in-progress input when a redirect interrupts a send.
func NewSession(baseURL string, cache *pending.Cache) *Session {
	return &Session{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: livenessTimeout},
		cache:      cache,
	}
}

// WithHTTPClient overrides the HTTP client (used in tests).
func (s *Session) WithHTTPClient(client *http.Client) *Session {
	s.httpClient = client
	return s
}

// =============================================================================
// TOKEN MANAGEMENT
// =============================================================================

// SetToken installs a token with an ISO-8601 expiry timestamp.
func (s *Session) SetToken(token, expiresAt string) error {
	t, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return fmt.Errorf("invalid token expiry %q: %w", expiresAt, err)
	}

	s.mu.Lock()
	s.token = token
	s.expiresAt = t
	s.mu.Unlock()

	log.Printf("AUTH | token installed | expires=%s", t.Format(time.RFC3339))
	return nil
}

// Token returns the current bearer token, or empty when none is installed.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Clear drops the token.
func (s *Session) Clear() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

// =============================================================================
// VALIDITY
// =============================================================================

// hasFreshToken reports whether a token exists and sits outside the expiry
// buffer. This is the purely local half of IsValid.
func (s *Session) hasFreshToken(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" {
		return false
	}
	return now.Add(ExpiryBuffer).Before(s.expiresAt)
}

// IsValid reports whether the session can be used right now. A token that
// passes the local expiry check is confirmed with a liveness request; any
// failure there means invalid. Fail closed: better to re-login than to send
// with a token the server already rejected.
func (s *Session) IsValid(ctx context.Context) bool {
	if !s.hasFreshToken(time.Now()) {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/auth", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+s.Token())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Printf("AUTH | liveness check failed | error=%v", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxAuthURLSize))

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// =============================================================================
// AUTHENTICATION CHECK
// =============================================================================

// CheckResult is the outcome of EnsureAuthenticated. Exactly one branch is
// taken: OK means proceed; otherwise AuthURL is the login page the user
// must visit, and the in-progress state has already been parked.
type CheckResult struct {
	OK      bool
	AuthURL string
}

// EnsureAuthenticated verifies the session before an operation. When the
// token is missing or stale it clears the session, carries returnURL and
// pendingInput across the upcoming redirect, fetches the login URL, and
// reports it. It never terminates control flow itself.
func (s *Session) EnsureAuthenticated(ctx context.Context, returnURL, pendingInput string) (*CheckResult, error) {
	if s.IsValid(ctx) {
		return &CheckResult{OK: true}, nil
	}

	s.Clear()

	if s.cache != nil {
		if err := s.cache.CarryAcrossRedirect(returnURL, pendingInput); err != nil {
			log.Printf("AUTH | failed to park pending state | error=%v", err)
		}
	}

	authURL, err := s.AuthURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch auth URL: %w", err)
	}

	log.Printf("AUTH | redirect required | url=%s", authURL)
	return &CheckResult{AuthURL: authURL}, nil
}

// AuthURL asks the service where the login page lives. The endpoint
// answers with JSON carrying the login URL in its url field.
func (s *Session) AuthURL(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/auth", nil)
	if err != nil {
		return "", err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth endpoint returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAuthURLSize))
	if err != nil {
		return "", err
	}

	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("auth endpoint returned malformed body: %w", err)
	}

	authURL := strings.TrimSpace(payload.URL)
	if _, err := url.ParseRequestURI(authURL); err != nil {
		return "", fmt.Errorf("auth endpoint returned malformed URL %q: %w", authURL, err)
	}
	return authURL, nil
}

// =============================================================================
// CALLBACK
// =============================================================================

// callbackPayload is the JSON the login flow places in the URL fragment.
type callbackPayload struct {
	AccessToken string `json:"AccessToken"`
	ExpiresAt   string `json:"ExpiresAt"`
}

// CallbackResult is the restored state after a completed login.
type CallbackResult struct {
	ReturnURL    string
	PendingInput string
	Upload       *pending.Upload
}

// HandleCallback completes the login flow. The fragment is the URL fragment
// from the callback (leading '#' optional), URL-encoded JSON with
// AccessToken and ExpiresAt fields. On success the token is installed and
// the carried state is restored. On any parse failure no token is
// installed and ReturnURL falls back to "/".
func (s *Session) HandleCallback(fragment string) (*CallbackResult, error) {
	fragment = strings.TrimPrefix(fragment, "#")

	decoded, err := url.QueryUnescape(fragment)
	if err != nil {
		return &CallbackResult{ReturnURL: "/"}, fmt.Errorf("failed to decode callback fragment: %w", err)
	}

	var payload callbackPayload
	if err := json.Unmarshal([]byte(decoded), &payload); err != nil {
		return &CallbackResult{ReturnURL: "/"}, fmt.Errorf("failed to parse callback payload: %w", err)
	}
	if payload.AccessToken == "" {
		return &CallbackResult{ReturnURL: "/"}, errors.New("callback payload missing access token")
	}

	if err := s.SetToken(payload.AccessToken, payload.ExpiresAt); err != nil {
		return &CallbackResult{ReturnURL: "/"}, err
	}

	result := &CallbackResult{ReturnURL: "/"}
	if s.cache != nil {
		returnURL, input, upload := s.cache.RestoreAfterRedirect()
		if returnURL != "" {
			result.ReturnURL = returnURL
		}
		result.PendingInput = input
		result.Upload = upload
	}
	return result, nil
}
