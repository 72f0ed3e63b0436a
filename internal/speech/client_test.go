// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/transcribe" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("bad multipart: %v", err)
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Fatalf("missing audio field: %v", err)
		}
		defer file.Close()
		if header.Filename != "clip.webm" {
			t.Errorf("filename = %q", header.Filename)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "opus-bytes" {
			t.Errorf("audio = %q", data)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": "hello world"})
	}))
	defer srv.Close()

	c := NewClient().WithBaseURL(srv.URL)
	text, err := c.Transcribe(context.Background(), "clip.webm", strings.NewReader("opus-bytes"))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
}

func TestTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "Failed to transcribe audio",
			"details": "quota exceeded",
		})
	}))
	defer srv.Close()

	c := NewClient().WithBaseURL(srv.URL)
	_, err := c.Transcribe(context.Background(), "clip.webm", strings.NewReader("x"))

	var te *TranscribeError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TranscribeError, got %v", err)
	}
	if te.Status != http.StatusInternalServerError {
		t.Errorf("status = %d", te.Status)
	}
	if te.Message != "Failed to transcribe audio" || te.Details != "quota exceeded" {
		t.Errorf("error = %+v", te)
	}
}

func TestTranscribeNonJSONFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient().WithBaseURL(srv.URL)
	_, err := c.Transcribe(context.Background(), "clip.webm", strings.NewReader("x"))

	var te *TranscribeError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TranscribeError, got %v", err)
	}
	if te.Message != "bad gateway" {
		t.Errorf("message = %q", te.Message)
	}
}
