// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ============================================================================
// Transcriber Interface
// ============================================================================

// Transcriber turns recorded audio into text. The server treats it as an
// opaque collaborator: bytes in, best-effort transcript out.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// ============================================================================
// Cloud Speech Transcriber
// ============================================================================

// Recognition settings for the cloud speech API. These match the capture
// side: 48 kHz Opus in a WebM container, English.
const (
	speechAPIURL = "https://speech.googleapis.com/v1/speech:recognize"

	speechEncoding   = "WEBM_OPUS"
	speechSampleRate = 48000
	speechLanguage   = "en-US"
	speechModel      = "default"

	speechTimeout = 60 * time.Second
)

// CloudTranscriber implements Transcriber against the Google Cloud Speech
// REST API.
type CloudTranscriber struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
}

// NewCloudTranscriber creates a transcriber using the given API key.
func NewCloudTranscriber(apiKey string) *CloudTranscriber {
	return &CloudTranscriber{
		apiKey:     apiKey,
		apiURL:     speechAPIURL,
		httpClient: &http.Client{Timeout: speechTimeout},
	}
}

// WithAPIURL overrides the API endpoint (used in tests).
func (t *CloudTranscriber) WithAPIURL(apiURL string) *CloudTranscriber {
	t.apiURL = apiURL
	return t
}

// recognizeRequest is the REST recognize request body.
type recognizeRequest struct {
	Config recognizeConfig `json:"config"`
	Audio  recognizeAudio  `json:"audio"`
}

type recognizeConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sampleRateHertz"`
	LanguageCode               string `json:"languageCode"`
	Model                      string `json:"model"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
	UseEnhanced                bool   `json:"useEnhanced"`
}

type recognizeAudio struct {
	Content string `json:"content"` // base64
}

// recognizeResponse is the REST recognize response body.
type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
}

// Transcribe sends the audio for recognition and joins the per-result
// transcripts with newlines. No speech detected is not an error: the
// transcript is simply empty.
func (t *CloudTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	reqBody := recognizeRequest{
		Config: recognizeConfig{
			Encoding:                   speechEncoding,
			SampleRateHertz:            speechSampleRate,
			LanguageCode:               speechLanguage,
			Model:                      speechModel,
			EnableAutomaticPunctuation: true,
			UseEnhanced:                true,
		},
		Audio: recognizeAudio{
			Content: base64.StdEncoding.EncodeToString(audio),
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL+"?key="+t.apiKey, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("speech API returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result recognizeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var parts []string
	for _, r := range result.Results {
		if len(r.Alternatives) > 0 && r.Alternatives[0].Transcript != "" {
			parts = append(parts, r.Alternatives[0].Transcript)
		}
	}
	return strings.Join(parts, "\n"), nil
}
