// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides persistence for the chat transcript.
//
// The transcript is a single JSON file holding the full ordered message
// list. Every mutation rewrites the whole file atomically; there is no
// incremental append format. Loading never fails the caller: a missing or
// corrupted file yields an empty transcript.
package store

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/jeranaias/nlip-client/internal/model"
	"github.com/jeranaias/nlip-client/internal/util"
)

// =============================================================================
// MESSAGE STORE
// =============================================================================

// MessageStore handles chat transcript persistence.
type MessageStore struct {
	mu sync.Mutex

	// path is the transcript file location.
	path string

	// messages is the in-memory transcript, authoritative between loads.
	messages []*model.Message

	// listener is invoked after each successful append so the UI can
	// scroll to the latest message. May be nil.
	listener func(*model.Message)
}

// New creates a store backed by the given file path. The file is not read
// until Load is called.
func New(path string) *MessageStore {
	return &MessageStore{path: path}
}

// SetListener registers a callback invoked after every successful append.
// Passing nil removes the listener.
func (s *MessageStore) SetListener(fn func(*model.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

// =============================================================================
// LOAD
// =============================================================================

// Load reads the transcript from disk and returns it in insertion order.
// An absent or malformed file is treated as an empty transcript, never as a
// fatal error: the chat must always be able to start.
func (s *MessageStore) Load() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("STORE | load failed, starting empty | path=%s error=%v", s.path, err)
		}
		s.messages = nil
		return nil
	}

	var msgs []*model.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		log.Printf("STORE | corrupt transcript, starting empty | path=%s error=%v", s.path, err)
		s.messages = nil
		return nil
	}

	s.messages = msgs
	return s.snapshot()
}

// Messages returns a copy of the current in-memory transcript.
func (s *MessageStore) Messages() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Len returns the number of messages in the transcript.
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Append adds a message to the end of the transcript, persists the full
// list, and notifies the listener. The message is kept in memory even if
// the write fails; the error is returned so the caller can surface it.
func (s *MessageStore) Append(msg *model.Message) error {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	err := s.persistLocked()
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener(msg)
	}
	return err
}

// Edit replaces the content of the message with the given ID. The ID,
// timestamp, and position are preserved. Returns false without touching
// anything when the ID is unknown or the new content is empty after
// trimming. A write error is reported alongside ok=true: the in-memory
// edit succeeded even if persistence did not.
func (s *MessageStore) Edit(id, newContent string) (bool, error) {
	trimmed := strings.TrimSpace(newContent)
	if trimmed == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.messages {
		if msg.ID == id {
			msg.Content = newContent
			return true, s.persistLocked()
		}
	}
	return false, nil
}

// Clear removes all messages and deletes the transcript file.
func (s *MessageStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// persistLocked writes the full transcript to disk. Caller holds the lock.
func (s *MessageStore) persistLocked() error {
	data, err := json.MarshalIndent(s.messages, "", "  ")
	if err != nil {
		return err
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	return util.AtomicWriteFile(s.path, data, 0644)
}

// snapshot copies the message slice. Caller holds the lock.
func (s *MessageStore) snapshot() []*model.Message {
	out := make([]*model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
