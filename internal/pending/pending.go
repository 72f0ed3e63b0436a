// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pending holds short-lived state that must survive an
// authentication redirect: a staged file upload, the in-progress input
// text, and the URL to return to once the token is installed.
//
// Each value is a small JSON file in a session-scoped scratch directory.
// Reads are destructive: a value is deleted the moment it is consumed, so
// nothing here outlives a single hand-off.
package pending

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
)

// =============================================================================
// UPLOAD TYPE
// =============================================================================

// Kind distinguishes the two upload flavors.
type Kind string

const (
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

// Upload is a file the user selected but that has not been sent yet.
// Data is the raw file content base64-encoded, matching how it travels on
// the wire in both upload paths.
type Upload struct {
	Kind     Kind   `json:"kind"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

// Carried state lives as one file per field so partial restores degrade
// gracefully.
const (
	fileReturnURL = "returnUrl.json"
	fileInput     = "pendingMessage.json"
	fileUpload    = "pendingUpload.json"
)

// =============================================================================
// CACHE
// =============================================================================

// Cache is the scratch directory holding pending state.
type Cache struct {
	dir string
}

// New creates a cache rooted at dir, creating the directory if needed.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

// =============================================================================
// STAGED UPLOADS
// =============================================================================

// Stage records an upload awaiting send. There is only one slot: staging an
// image clears a previously staged document and vice versa.
func (c *Cache) Stage(u *Upload) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, fileUpload), data, 0600)
}

// Consume returns the staged upload and clears the slot. A second call
// returns nil. A corrupt file is discarded and reported as nil.
func (c *Cache) Consume() *Upload {
	path := filepath.Join(c.dir, fileUpload)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	os.Remove(path)

	var u Upload
	if err := json.Unmarshal(data, &u); err != nil {
		log.Printf("PENDING | corrupt staged upload discarded | error=%v", err)
		return nil
	}
	return &u
}

// Peek reports whether an upload is staged without consuming it.
func (c *Cache) Peek() bool {
	_, err := os.Stat(filepath.Join(c.dir, fileUpload))
	return err == nil
}

// =============================================================================
// REDIRECT HAND-OFF
// =============================================================================

// CarryAcrossRedirect saves the return URL and the user's in-progress input
// so both survive the authentication round-trip. The staged upload, if any,
// is already on disk and carries over untouched.
func (c *Cache) CarryAcrossRedirect(returnURL, pendingInput string) error {
	if err := c.writeString(fileReturnURL, returnURL); err != nil {
		return err
	}
	if pendingInput == "" {
		return nil
	}
	return c.writeString(fileInput, pendingInput)
}

// RestoreAfterRedirect retrieves everything carried across the redirect and
// clears it immediately, so a repeated callback cannot replay the state.
// Missing pieces come back as zero values.
func (c *Cache) RestoreAfterRedirect() (returnURL, pendingInput string, upload *Upload) {
	returnURL = c.takeString(fileReturnURL)
	pendingInput = c.takeString(fileInput)
	upload = c.Consume()
	return returnURL, pendingInput, upload
}

// Clear drops everything in the cache.
func (c *Cache) Clear() {
	for _, name := range []string{fileReturnURL, fileInput, fileUpload} {
		os.Remove(filepath.Join(c.dir, name))
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Cache) writeString(name, value string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, name), data, 0600)
}

// takeString reads a string value and deletes its file.
func (c *Cache) takeString(name string) string {
	path := filepath.Join(c.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	os.Remove(path)

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return ""
	}
	return s
}
