// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/nlip-client/internal/pending"
)

func newTestCache(t *testing.T) *pending.Cache {
	t.Helper()
	c, err := pending.New(t.TempDir())
	require.NoError(t, err)
	return c
}

func futureExpiry(d time.Duration) string {
	return time.Now().Add(d).Format(time.RFC3339)
}

func TestIsValidNoToken(t *testing.T) {
	s := NewSession("http://127.0.0.1:0", nil)
	assert.False(t, s.IsValid(context.Background()))
}

func TestIsValidExpiryBuffer(t *testing.T) {
	// Inside the five-minute buffer the token is stale without any
	// network traffic; outside it, a liveness check confirms it.
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/auth", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSession(srv.URL, nil)

	require.NoError(t, s.SetToken("tok", futureExpiry(4*time.Minute+59*time.Second)))
	assert.False(t, s.IsValid(context.Background()))
	assert.Zero(t, hits.Load(), "stale token must be rejected locally")

	require.NoError(t, s.SetToken("tok", futureExpiry(5*time.Minute+10*time.Second)))
	assert.True(t, s.IsValid(context.Background()))
	assert.Equal(t, int64(1), hits.Load())
}

func TestIsValidFailsClosed(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"server rejects token", http.StatusUnauthorized},
		{"server error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			s := NewSession(srv.URL, nil)
			require.NoError(t, s.SetToken("tok", futureExpiry(time.Hour)))
			assert.False(t, s.IsValid(context.Background()))
		})
	}

	t.Run("server unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // nothing listening anymore

		s := NewSession(srv.URL, nil)
		require.NoError(t, s.SetToken("tok", futureExpiry(time.Hour)))
		assert.False(t, s.IsValid(context.Background()))
	})
}

func TestSetTokenRejectsBadExpiry(t *testing.T) {
	s := NewSession("http://127.0.0.1:0", nil)
	assert.Error(t, s.SetToken("tok", "not-a-timestamp"))
	assert.Empty(t, s.Token())
}

func TestEnsureAuthenticatedOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSession(srv.URL, newTestCache(t))
	require.NoError(t, s.SetToken("tok", futureExpiry(time.Hour)))

	check, err := s.EnsureAuthenticated(context.Background(), "/chat", "draft")
	require.NoError(t, err)
	assert.True(t, check.OK)
	assert.Empty(t, check.AuthURL)
}

func TestEnsureAuthenticatedRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No bearer token: this is the where-do-I-log-in request.
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"url": "https://login.example/start"}`))
	}))
	defer srv.Close()

	cache := newTestCache(t)
	s := NewSession(srv.URL, cache)

	check, err := s.EnsureAuthenticated(context.Background(), "/chat", "half-typed")
	require.NoError(t, err)
	assert.False(t, check.OK)
	assert.Equal(t, "https://login.example/start", check.AuthURL)

	// The in-progress state was parked for the round-trip.
	returnURL, input, _ := cache.RestoreAfterRedirect()
	assert.Equal(t, "/chat", returnURL)
	assert.Equal(t, "half-typed", input)
}

func TestAuthURLRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"plain text instead of json", "https://login.example/start"},
		{"missing url field", `{"login": "https://login.example/start"}`},
		{"url not a url", `{"url": "not a url"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s := NewSession(srv.URL, nil)
			_, err := s.AuthURL(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestEnsureAuthenticatedAuthURLUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSession(srv.URL, newTestCache(t))
	_, err := s.EnsureAuthenticated(context.Background(), "/", "")
	assert.Error(t, err)
}

func TestRedirectErrorIs(t *testing.T) {
	err := error(&RedirectError{AuthURL: "https://login.example"})
	assert.True(t, errors.Is(err, ErrRedirecting))

	var redirect *RedirectError
	require.True(t, errors.As(err, &redirect))
	assert.Equal(t, "https://login.example", redirect.AuthURL)
}

func TestHandleCallback(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.CarryAcrossRedirect("/chat", "draft"))

	s := NewSession("http://127.0.0.1:0", cache)

	payload, _ := json.Marshal(map[string]string{
		"AccessToken": "fresh-token",
		"ExpiresAt":   futureExpiry(time.Hour),
	})
	fragment := "#" + url.QueryEscape(string(payload))

	result, err := s.HandleCallback(fragment)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", s.Token())
	assert.Equal(t, "/chat", result.ReturnURL)
	assert.Equal(t, "draft", result.PendingInput)
}

func TestHandleCallbackFailures(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
	}{
		{"not json", "#garbage"},
		{"missing token", "#" + url.QueryEscape(`{"ExpiresAt":"2030-01-01T00:00:00Z"}`)},
		{"bad expiry", "#" + url.QueryEscape(`{"AccessToken":"t","ExpiresAt":"bad"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession("http://127.0.0.1:0", newTestCache(t))
			result, err := s.HandleCallback(tt.fragment)
			assert.Error(t, err)
			assert.Equal(t, "/", result.ReturnURL, "failures fall back to the root")
			assert.Empty(t, s.Token(), "no token may be installed on failure")
		})
	}
}
