// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements live speech transcription over an Open Voice
// Network (OVON) dialog channel: audio chunks go up as OVON envelopes,
// transcript updates come back over a server-sent event stream.
package stream

import "time"

// =============================================================================
// OVON ENVELOPE
// =============================================================================

// Protocol constants for the OVON dialog envelope.
const (
	// SchemaVersion is the OVON schema version this client speaks.
	SchemaVersion = "0.9.4"

	// SpeakerURI identifies this client as the dialog speaker.
	SpeakerURI = "tag:nlip-client,2025:0001"

	// EventUtterance is the event type for both audio and control events.
	EventUtterance = "utterance"

	// AudioMimeType is the encoding of the captured audio chunks.
	AudioMimeType = "audio/webm;codecs=opus"

	// TextMimeType is the encoding of text features.
	TextMimeType = "text/plain"
)

// Envelope is the OVON dialog envelope.
type Envelope struct {
	OVON OVON `json:"ovon"`
}

// OVON is the envelope payload.
type OVON struct {
	Schema       Schema       `json:"schema"`
	Conversation Conversation `json:"conversation"`
	Sender       Sender       `json:"sender"`
	Events       []Event      `json:"events"`
}

// Schema carries the protocol version.
type Schema struct {
	Version string `json:"version"`
}

// Conversation identifies the transcription session.
type Conversation struct {
	ID string `json:"id"`
}

// Sender identifies the speaking party.
type Sender struct {
	SpeakerURI string `json:"speakerUri"`
	ServiceURL string `json:"serviceUrl"`
}

// Event is a single dialog event.
type Event struct {
	EventType  string      `json:"eventType"`
	Parameters *Parameters `json:"parameters,omitempty"`
}

// Parameters wraps the dialog event body.
type Parameters struct {
	DialogEvent *DialogEvent `json:"dialogEvent,omitempty"`
}

// DialogEvent carries the speaker, timing, and features of one event.
type DialogEvent struct {
	SpeakerURI string   `json:"speakerUri"`
	Span       Span     `json:"span"`
	Features   Features `json:"features"`
}

// Span marks when the event started.
type Span struct {
	StartTime string `json:"startTime"`
}

// Features holds the event payload. Exactly one of Text or Audio is set.
type Features struct {
	Text  *Feature `json:"text,omitempty"`
	Audio *Feature `json:"audio,omitempty"`
}

// Feature is a typed token list.
type Feature struct {
	MimeType string  `json:"mimeType"`
	Tokens   []Token `json:"tokens"`
}

// Token is a single feature value: transcript text for text features,
// base64 audio for audio features.
type Token struct {
	Value string `json:"value"`
}

// =============================================================================
// ENVELOPE CONSTRUCTION
// =============================================================================

// newEnvelope wraps features in a full OVON envelope for the session.
func newEnvelope(sessionID, serviceURL string, features Features) Envelope {
	return Envelope{
		OVON: OVON{
			Schema:       Schema{Version: SchemaVersion},
			Conversation: Conversation{ID: sessionID},
			Sender: Sender{
				SpeakerURI: SpeakerURI,
				ServiceURL: serviceURL,
			},
			Events: []Event{
				{
					EventType: EventUtterance,
					Parameters: &Parameters{
						DialogEvent: &DialogEvent{
							SpeakerURI: SpeakerURI,
							Span:       Span{StartTime: time.Now().Format(time.RFC3339)},
							Features:   features,
						},
					},
				},
			},
		},
	}
}

// newTextEnvelope builds a control envelope with a single text token.
func newTextEnvelope(sessionID, serviceURL, text string) Envelope {
	return newEnvelope(sessionID, serviceURL, Features{
		Text: &Feature{
			MimeType: TextMimeType,
			Tokens:   []Token{{Value: text}},
		},
	})
}

// newAudioEnvelope builds an audio envelope with one base64-encoded chunk.
func newAudioEnvelope(sessionID, serviceURL, base64Audio string) Envelope {
	return newEnvelope(sessionID, serviceURL, Features{
		Audio: &Feature{
			MimeType: AudioMimeType,
			Tokens:   []Token{{Value: base64Audio}},
		},
	})
}

// TranscriptText extracts the transcript from an incoming envelope: the
// first event's text feature, first token. Returns false when the envelope
// carries no text.
func (e *Envelope) TranscriptText() (string, bool) {
	if len(e.OVON.Events) == 0 {
		return "", false
	}
	ev := e.OVON.Events[0]
	if ev.Parameters == nil || ev.Parameters.DialogEvent == nil {
		return "", false
	}
	text := ev.Parameters.DialogEvent.Features.Text
	if text == nil || len(text.Tokens) == 0 {
		return "", false
	}
	return text.Tokens[0].Value, true
}
