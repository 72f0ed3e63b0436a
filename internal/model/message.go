// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat messages.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/nlip-client/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAI:
		return "AI"
	default:
		return string(r)
	}
}

// IsValid reports whether the role is one of the two known values.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAI
}

// =============================================================================
// ATTACHMENT TYPE
// =============================================================================

// Attachment is an inline image carried alongside a user message.
// DataURI holds the full data: URI so the message renders without a second
// fetch; MimeType is kept separately for validation and display.
type Attachment struct {
	DataURI  string `json:"dataUri"`
	MimeType string `json:"mimeType"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in the chat transcript.
type Message struct {
	// Identity
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Timestamp int64  `json:"timestamp"` // milliseconds since epoch

	// Content
	Content string `json:"content"`

	// Optional inline image (user messages only, at most one)
	Attachment *Attachment `json:"attachment,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewUserImageMessage creates a user message carrying an inline image.
func NewUserImageMessage(content, dataURI, mimeType string) *Message {
	msg := NewMessage(RoleUser, content)
	msg.Attachment = &Attachment{DataURI: dataURI, MimeType: mimeType}
	return msg
}

// NewAIMessage creates a new AI message.
func NewAIMessage(content string) *Message {
	return NewMessage(RoleAI, content)
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// Preview returns a single-line, truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	return util.Truncate(util.SingleLine(m.Content), maxLen)
}

// IsEmpty returns true if the message has no content and no attachment.
func (m *Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && m.Attachment == nil
}

// HasImage reports whether the message carries an inline image.
func (m *Message) HasImage() bool {
	return m.Attachment != nil
}

// Time returns the message timestamp as a time.Time.
func (m *Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateID creates a unique message ID. The millisecond prefix keeps IDs
// roughly sortable; the random suffix breaks ties within the same millisecond.
func generateID() string {
	bytes := make([]byte, 6)
	rand.Read(bytes)
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + hex.EncodeToString(bytes)
}
