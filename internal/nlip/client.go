// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package nlip

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/nlip-client/internal/auth"
)

// Configuration constants for the NLIP service.
const (
	// DefaultBaseURL is the base URL for the NLIP service.
	DefaultBaseURL = "https://druid.eecs.umich.edu"

	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 60 * time.Second

	// DefaultPrompt is used when an image is sent without accompanying text.
	DefaultPrompt = "What do you see in this image?"

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// Shared HTTP client with connection pooling for all NLIP requests.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
	Timeout: DefaultTimeout,
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyResponse indicates the service replied without content.
	ErrEmptyResponse = errors.New("empty response from NLIP service")

	// ErrNoUploadURL indicates the upload-URL request came back without a
	// usable target.
	ErrNoUploadURL = errors.New("service did not provide an upload URL")
)

// HTTPError represents a non-2xx response from the NLIP service.
type HTTPError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("NLIP service returned HTTP %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("NLIP service returned HTTP %d", e.Status)
}

// ValidationError indicates input was rejected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the gateway to the NLIP service. Every operation verifies the
// authentication session first and reports a pending login as a
// *auth.RedirectError (errors.Is(err, auth.ErrRedirecting)).
type Client struct {
	baseURL    string
	session    *auth.Session
	httpClient *http.Client
}

// NewClient creates a client for the given session.
func NewClient(session *auth.Session) *Client {
	return &Client{
		baseURL:    DefaultBaseURL,
		session:    session,
		httpClient: sharedHTTPClient,
	}
}

// WithBaseURL overrides the service base URL.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// WithHTTPClient overrides the HTTP client (used in tests).
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

// =============================================================================
// OPERATIONS
// =============================================================================

// SendText sends a plain text message and returns the service's reply text.
func (c *Client) SendText(ctx context.Context, text string) (string, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return "", err
	}
	return c.postEnvelope(ctx, NewTextEnvelope(text))
}

// SendImage sends an image with an optional prompt. The mime type is
// validated before any network activity; an unsupported type is rejected
// with a *ValidationError. An empty prompt falls back to DefaultPrompt.
func (c *Client) SendImage(ctx context.Context, prompt, base64Image, mimeType string) (string, error) {
	subformat, ok := ImageSubformat(mimeType)
	if !ok {
		return "", &ValidationError{
			Field:   "image type",
			Message: fmt.Sprintf("%q is not a supported image format", mimeType),
		}
	}

	if err := c.ensureAuth(ctx); err != nil {
		return "", err
	}

	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	return c.postEnvelope(ctx, NewImageEnvelope(prompt, base64Image, subformat))
}

// UploadFile sends a file through the two-step upload flow: first ask the
// service for a one-time upload URL, then POST the file there as multipart
// form data. Returns the service's confirmation text.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return "", err
	}

	uploadURL, err := c.requestUploadURL(ctx)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}

	reply, err := c.postMultipart(ctx, uploadURL, name, r)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}

	log.Printf("NLIP | file uploaded | name=%s", name)
	return reply, nil
}

// GetAuthURL returns the login page URL for the service.
func (c *Client) GetAuthURL(ctx context.Context) (string, error) {
	return c.session.AuthURL(ctx)
}

// =============================================================================
// INTERNAL
// =============================================================================

// ensureAuth verifies the session, converting a stale or missing token into
// a redirect error carrying the login URL.
func (c *Client) ensureAuth(ctx context.Context) error {
	if c.session.IsValid(ctx) {
		return nil
	}

	c.session.Clear()

	authURL, err := c.session.AuthURL(ctx)
	if err != nil {
		return fmt.Errorf("authentication required but auth URL unavailable: %w", err)
	}
	return &auth.RedirectError{AuthURL: authURL}
}

// postEnvelope sends an envelope to the message endpoint and returns the
// reply envelope's content.
func (c *Client) postEnvelope(ctx context.Context, env Envelope) (string, error) {
	body, err := c.postJSON(ctx, c.baseURL+"/nlip/", env)
	if err != nil {
		return "", err
	}

	var reply Envelope
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if reply.Content == "" {
		return "", ErrEmptyResponse
	}
	return reply.Content, nil
}

// requestUploadURL performs step one of the upload flow. The upload-URL
// request is an ordinary envelope on the message endpoint; the reply's
// content is the one-time upload target.
func (c *Client) requestUploadURL(ctx context.Context) (string, error) {
	body, err := c.postJSON(ctx, c.baseURL+"/nlip/", newUploadURLRequest())
	if err != nil {
		return "", err
	}

	var reply Envelope
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("failed to parse upload URL response: %w", err)
	}

	uploadURL := strings.TrimSpace(reply.Content)
	if uploadURL == "" {
		return "", ErrNoUploadURL
	}
	return uploadURL, nil
}

// postJSON sends a JSON body with the bearer header and returns the raw
// response body. Non-2xx statuses become *HTTPError.
func (c *Client) postJSON(ctx context.Context, url string, payload any) ([]byte, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.session.Token())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return c.readResponse(resp)
}

// postMultipart sends a file as a multipart form with field name "file".
func (c *Client) postMultipart(ctx context.Context, url, name string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.session.Token())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := c.readResponse(resp)
	if err != nil {
		return "", err
	}

	// The upload target answers with JSON {message?, url?}. A non-JSON
	// body passes through as plain text.
	var payload struct {
		Message string `json:"message"`
		URL     string `json:"url"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.URL != "" {
			return payload.URL, nil
		}
		if payload.Message != "" {
			return payload.Message, nil
		}
	}
	return strings.TrimSpace(string(body)), nil
}

// readResponse drains a capped response body and maps non-2xx statuses to
// *HTTPError.
func (c *Client) readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}
