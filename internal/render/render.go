// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns messages into terminal output. AI replies are
// rendered as markdown; user input is always shown literally, never
// interpreted, so pasted text cannot change how the transcript reads.
package render

import (
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/nlip-client/internal/model"
)

// Renderer formats message content for terminal display.
type Renderer struct {
	markdown *glamour.TermRenderer
}

// New creates a renderer wrapped at the given width. A failed glamour
// initialization degrades to plain text rather than failing the session.
func New(wordWrap int) *Renderer {
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		md = nil
	}
	return &Renderer{markdown: md}
}

// Render formats a message according to its role.
func (r *Renderer) Render(msg *model.Message) string {
	if msg.Role == model.RoleAI {
		return r.renderMarkdown(msg.Content)
	}
	return msg.Content
}

// renderMarkdown renders markdown content for terminal display.
// Returns the original content if rendering fails or the renderer is
// unavailable.
func (r *Renderer) renderMarkdown(content string) string {
	if r.markdown == nil {
		return content
	}
	rendered, err := r.markdown.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}
