// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package nlip implements the client for the Natural Language Interaction
// Protocol (NLIP) service: text and image exchanges plus the two-step file
// upload flow, all speaking the NLIP envelope format.
package nlip

import "strings"

// =============================================================================
// ENVELOPE FORMAT
// =============================================================================

// Envelope is the NLIP wire message. A message is one top-level envelope
// with optional submessages; the top level carries the text, submessages
// carry binary payloads such as images.
type Envelope struct {
	Format      string     `json:"format"`
	Subformat   string     `json:"subformat"`
	Content     string     `json:"content"`
	Submessages []Envelope `json:"submessages,omitempty"`
}

// Envelope formats.
const (
	FormatText           = "text"
	FormatBinary         = "binary"
	FormatAuthentication = "authentication"
	FormatStructured     = "structured"
	FormatLocation       = "location"
	FormatGeneric        = "generic"
)

// SubformatEnglish is the subformat for plain English text.
const SubformatEnglish = "english"

// imageSubformats is the closed set of accepted image encodings. The
// subformat on the wire is the bare encoding name, not the full mime type.
var imageSubformats = map[string]bool{
	"jpeg": true,
	"jpg":  true,
	"png":  true,
	"gif":  true,
	"bmp":  true,
}

// ImageSubformat converts an image mime type ("image/png") to its envelope
// subformat ("png"). Returns false when the type is not an accepted image
// encoding; callers must reject such input before any network activity.
func ImageSubformat(mimeType string) (string, bool) {
	sub, found := strings.CutPrefix(strings.ToLower(mimeType), "image/")
	if !found || !imageSubformats[sub] {
		return "", false
	}
	return sub, true
}

// NewTextEnvelope builds a plain text message.
func NewTextEnvelope(content string) Envelope {
	return Envelope{
		Format:    FormatText,
		Subformat: SubformatEnglish,
		Content:   content,
	}
}

// NewImageEnvelope builds a text message with one binary image submessage.
// The subformat must already be validated via ImageSubformat.
func NewImageEnvelope(prompt, base64Image, subformat string) Envelope {
	return Envelope{
		Format:    FormatText,
		Subformat: SubformatEnglish,
		Content:   prompt,
		Submessages: []Envelope{
			{
				Format:    FormatBinary,
				Subformat: subformat,
				Content:   base64Image,
			},
		},
	}
}

// uploadURLRequest is the fixed first-step body of the upload flow. The
// capitalised Format/Subformat keys are part of the wire contract for this
// request only; everything else uses the lowercase envelope keys.
type uploadURLRequest struct {
	Content   string `json:"content"`
	Format    string `json:"Format"`
	Subformat string `json:"Subformat"`
}

// newUploadURLRequest builds the request-an-upload-URL message.
func newUploadURLRequest() uploadURLRequest {
	return uploadURLRequest{
		Content:   "request_upload_url",
		Format:    FormatText,
		Subformat: SubformatEnglish,
	}
}
