// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package speech is the client for the batch transcription proxy: one
// recorded clip in, one transcript out.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the transcription proxy address.
	DefaultBaseURL = "http://localhost:3000"

	// DefaultTimeout bounds one transcription round-trip.
	DefaultTimeout = 60 * time.Second

	// maxResponseSize caps the proxy response body.
	maxResponseSize = 1 * 1024 * 1024
)

// =============================================================================
// ERRORS
// =============================================================================

// TranscribeError is a failure response from the proxy.
type TranscribeError struct {
	Status  int
	Message string
	Details string
}

// Error implements the error interface.
func (e *TranscribeError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("transcription failed (HTTP %d): %s: %s", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("transcription failed (HTTP %d): %s", e.Status, e.Message)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the transcription proxy.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the default proxy address.
func NewClient() *Client {
	return &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// WithBaseURL overrides the proxy address.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// WithHTTPClient overrides the HTTP client (used in tests).
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

// Transcribe posts a recorded audio clip as multipart form data (field
// "audio") and returns the transcript. Non-200 responses are decoded into
// *TranscribeError.
func (c *Client) Transcribe(ctx context.Context, name string, audio io.Reader) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio", name)
	if err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("failed to read audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/transcribe", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if err := json.Unmarshal(body, &failure); err != nil || failure.Error == "" {
			failure.Error = strings.TrimSpace(string(body))
		}
		return "", &TranscribeError{
			Status:  resp.StatusCode,
			Message: failure.Error,
			Details: failure.Details,
		}
	}

	var success struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &success); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return success.Text, nil
}
