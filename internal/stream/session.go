// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// OpenTimeout bounds how long Start waits for the event stream to
	// open before giving up.
	OpenTimeout = 5 * time.Second

	// ChunkInterval is the cadence at which audio chunks are relayed.
	ChunkInterval = 100 * time.Millisecond

	// DefaultBaseURL is the transcription relay.
	DefaultBaseURL = "http://localhost:3000"

	// DefaultServiceURL is advertised as the sender's service endpoint.
	DefaultServiceURL = "http://localhost:8000"

	// controlTimeout bounds the start/stop/audio control posts.
	controlTimeout = 10 * time.Second
)

// Control utterances understood by the relay.
const (
	startUtterance = "Start transcription"
	stopUtterance  = "Stop transcription"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrAlreadyStreaming indicates Start was called on an active session.
	ErrAlreadyStreaming = errors.New("transcription session already active")

	// ErrConnectTimeout indicates the event stream did not open in time.
	ErrConnectTimeout = errors.New("timed out opening event stream")
)

// =============================================================================
// AUDIO SOURCE
// =============================================================================

// AudioSource produces encoded audio in short chunks. The session polls it
// on the chunk interval while streaming.
type AudioSource interface {
	// NextChunk returns the next chunk of encoded audio. Returning io.EOF
	// ends the relay; an empty chunk is skipped.
	NextChunk(ctx context.Context) ([]byte, error)

	// Close releases the capture device.
	Close() error
}

// UpdateFunc receives transcript updates as the relay produces them.
type UpdateFunc func(transcript string, final bool)

// =============================================================================
// SESSION STATE
// =============================================================================

// State is the session lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateStopping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one live transcription exchange. A session is single-use:
// after Stop returns it is idle and a new Start opens a fresh conversation
// under a new ID.
type Session struct {
	baseURL    string
	serviceURL string
	source     AudioSource
	onUpdate   UpdateFunc

	// sseClient has no timeout; the stream lives until cancelled.
	sseClient     *http.Client
	controlClient *http.Client

	mu     sync.Mutex
	state  State
	id     string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession creates a session over the given audio source. The update
// callback may be nil.
func NewSession(source AudioSource, onUpdate UpdateFunc) *Session {
	return &Session{
		baseURL:       DefaultBaseURL,
		serviceURL:    DefaultServiceURL,
		source:        source,
		onUpdate:      onUpdate,
		sseClient:     &http.Client{},
		controlClient: &http.Client{Timeout: controlTimeout},
	}
}

// WithBaseURL overrides the relay base URL.
func (s *Session) WithBaseURL(baseURL string) *Session {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState sets the current lifecycle phase.
func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// ID returns the conversation ID of the current or last session.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// =============================================================================
// START
// =============================================================================

// Start opens the event stream, announces the session to the relay, and
// begins relaying audio. It returns once streaming is established; the
// relay loops run in the background until Stop or context cancellation.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStreaming
	}
	s.state = StateConnecting
	s.id = uuid.NewString()
	id := s.id
	s.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)

	resp, err := s.openEventStream(streamCtx, id)
	if err != nil {
		cancel()
		s.setState(StateIdle)
		return err
	}

	// Announce the session before any audio flows.
	startEnv := newTextEnvelope(id, s.serviceURL, startUtterance)
	if err := s.postEnvelope(ctx, "/start/"+id, startEnv); err != nil {
		resp.Body.Close()
		cancel()
		s.setState(StateIdle)
		return fmt.Errorf("failed to start transcription: %w", err)
	}

	s.mu.Lock()
	s.cancel = cancel
	s.state = StateStreaming
	s.mu.Unlock()

	s.wg.Add(2)
	go s.readTranscripts(streamCtx, resp.Body)
	go s.relayAudio(streamCtx, id)

	log.Printf("STREAM | session started | id=%s", id)
	return nil
}

// openEventStream issues the SSE GET and waits for it to open, enforcing
// the open timeout. The stream is considered open once response headers
// arrive with a 200.
func (s *Session) openEventStream(ctx context.Context, id string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/stream/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.sseClient.Do(req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to open event stream: %w", r.err)
		}
		if r.resp.StatusCode != http.StatusOK {
			r.resp.Body.Close()
			return nil, fmt.Errorf("event stream returned HTTP %d", r.resp.StatusCode)
		}
		return r.resp, nil
	case <-time.After(OpenTimeout):
		// The pending response, if it ever arrives, is closed by the
		// goroutine below via context cancellation upstream.
		go func() {
			if r := <-done; r.resp != nil {
				r.resp.Body.Close()
			}
		}()
		return nil, ErrConnectTimeout
	case <-ctx.Done():
		go func() {
			if r := <-done; r.resp != nil {
				r.resp.Body.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// =============================================================================
// STREAMING LOOPS
// =============================================================================

// readTranscripts consumes the event stream and delivers transcript
// updates until the stream closes.
func (s *Session) readTranscripts(ctx context.Context, body io.ReadCloser) {
	defer s.wg.Done()
	defer body.Close()

	reader := newSSEReader(body)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := reader.readEvent()
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				log.Printf("STREAM | event stream read failed | error=%v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Skip malformed events
			continue
		}

		if transcript, ok := env.TranscriptText(); ok && s.onUpdate != nil {
			s.onUpdate(transcript, true)
		}
	}
}

// relayAudio polls the source on the chunk interval and posts each chunk
// as a base64 audio envelope. A failed post is logged and skipped, never
// retried: the next chunk matters more than the lost one.
func (s *Session) relayAudio(ctx context.Context, id string) {
	defer s.wg.Done()

	ticker := time.NewTicker(ChunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		chunk, err := s.source.NextChunk(ctx)
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				log.Printf("STREAM | audio source failed | error=%v", err)
			}
			return
		}
		if len(chunk) == 0 {
			continue
		}

		env := newAudioEnvelope(id, s.serviceURL, base64.StdEncoding.EncodeToString(chunk))
		if err := s.postEnvelope(ctx, "/audio/"+id, env); err != nil {
			log.Printf("STREAM | audio chunk dropped | error=%v", err)
		}
	}
}

// =============================================================================
// STOP
// =============================================================================

// Stop ends the session: the audio source is closed, the relay is told to
// finish, and the event stream is torn down. Safe to call when idle.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	id := s.id
	cancel := s.cancel
	s.mu.Unlock()

	if err := s.source.Close(); err != nil {
		log.Printf("STREAM | audio source close failed | error=%v", err)
	}

	stopEnv := newTextEnvelope(id, s.serviceURL, stopUtterance)
	stopErr := s.postEnvelope(ctx, "/stop/"+id, stopEnv)
	if stopErr != nil {
		log.Printf("STREAM | stop notification failed | id=%s error=%v", id, stopErr)
	}

	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateIdle
	s.cancel = nil
	s.mu.Unlock()

	log.Printf("STREAM | session stopped | id=%s", id)
	return stopErr
}

// =============================================================================
// HELPERS
// =============================================================================

// postEnvelope sends an envelope to a relay control endpoint.
func (s *Session) postEnvelope(ctx context.Context, path string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.controlClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay returned HTTP %d", resp.StatusCode)
	}
	return nil
}
