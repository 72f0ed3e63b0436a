// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the speech-transcription proxy: browser and CLI
// clients post recorded audio here, the proxy forwards it to a cloud
// speech service, and the transcript comes back as JSON. Keeping the cloud
// credentials server-side is the whole point of the proxy.
//
// Endpoints:
//   - POST /api/transcribe - multipart audio in, {"text": ...} out
//   - GET  /health         - health check
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 3000

	// MaxAudioSize is the maximum accepted audio upload (10MB).
	MaxAudioSize = 10 * 1024 * 1024

	// Version is the server version.
	Version = "0.1.0"

	// Request rate limit. Each transcription burns cloud quota, so the
	// bucket caps how fast one client can drain it.
	rateLimit = 5  // requests per second
	rateBurst = 10
)

// ============================================================================
// SERVER
// ============================================================================

// Server is the transcription proxy HTTP server.
type Server struct {
	port        int
	router      *http.ServeMux
	server      *http.Server
	transcriber Transcriber
	limiter     *rate.Limiter
}

// NewServer creates a server delegating to the given transcriber.
// If port is 0, the default port (3000) is used.
func NewServer(port int, transcriber Transcriber) *Server {
	if port == 0 {
		port = DefaultPort
	}

	s := &Server{
		port:        port,
		router:      http.NewServeMux(),
		transcriber: transcriber,
		limiter:     rate.NewLimiter(rate.Limit(rateLimit), rateBurst),
	}

	s.setupRoutes()
	return s
}

// Port returns the server port.
func (s *Server) Port() int {
	return s.port
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/transcribe", s.handleTranscribe)
	s.router.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the fully wrapped handler (used in tests). The rate
// limit sits inside CORS so preflight requests are never limited.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		LoggingMiddleware(log.Default()),
		CORSMiddleware(),
		RateLimitMiddleware(s.limiter),
	)(s.router)
}

// ============================================================================
// TRANSCRIBE HANDLER
// ============================================================================

// handleTranscribe handles POST /api/transcribe. The audio arrives as
// multipart form data under the field "audio".
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxAudioSize)

	if err := r.ParseMultipartForm(MaxAudioSize); err != nil {
		log.Printf("TRANSCRIBE | bad form | error=%v", err)
		s.writeError(w, http.StatusBadRequest, "No audio file provided", "")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		log.Printf("TRANSCRIBE | missing audio field | error=%v", err)
		s.writeError(w, http.StatusBadRequest, "No audio file provided", "")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, MaxAudioSize))
	if err != nil {
		log.Printf("TRANSCRIBE | failed to read upload | error=%v", err)
		s.writeError(w, http.StatusBadRequest, "No audio file provided", "")
		return
	}

	log.Printf("TRANSCRIBE | received | name=%s size=%d type=%s",
		header.Filename, len(audio), header.Header.Get("Content-Type"))

	transcript, err := s.transcriber.Transcribe(r.Context(), audio)
	if err != nil {
		log.Printf("TRANSCRIBE | failed | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to transcribe audio", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"text": transcript})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s version=%s", addr, Version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message, details string) {
	body := map[string]string{"error": message}
	if details != "" {
		body["details"] = details
	}
	s.writeJSON(w, status, body)
}
