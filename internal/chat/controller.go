// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat coordinates the chat session: optimistic transcript
// updates, the typing indicator, transient banners, and the hand-off to
// the login flow when the session has gone stale.
package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jeranaias/nlip-client/internal/auth"
	"github.com/jeranaias/nlip-client/internal/model"
	"github.com/jeranaias/nlip-client/internal/nlip"
	"github.com/jeranaias/nlip-client/internal/pending"
	"github.com/jeranaias/nlip-client/internal/store"
)

// =============================================================================
// GATEWAY INTERFACE
// =============================================================================

// Gateway is the slice of the NLIP client the controller needs.
type Gateway interface {
	SendText(ctx context.Context, text string) (string, error)
	SendImage(ctx context.Context, prompt, base64Image, mimeType string) (string, error)
	UploadFile(ctx context.Context, name string, r io.Reader) (string, error)
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller drives one chat session. Sends are serialized: a second send
// waits for the first to finish so replies land in the transcript in the
// order the sends were initiated.
type Controller struct {
	store   *store.MessageStore
	gateway Gateway
	session *auth.Session
	cache   *pending.Cache
	banners *bannerBoard

	// returnURL is carried across an auth redirect so the login flow
	// knows where to resume.
	returnURL string

	sendMu sync.Mutex
	typing atomic.Bool
}

// NewController wires a controller over its collaborators.
func NewController(st *store.MessageStore, gw Gateway, session *auth.Session, cache *pending.Cache, returnURL string) *Controller {
	return &Controller{
		store:     st,
		gateway:   gw,
		session:   session,
		cache:     cache,
		banners:   newBannerBoard(),
		returnURL: returnURL,
	}
}

// Typing reports whether a reply is currently awaited.
func (c *Controller) Typing() bool {
	return c.typing.Load()
}

// Banners returns the currently visible banners.
func (c *Controller) Banners() []Banner {
	return c.banners.active()
}

// Messages returns the current transcript.
func (c *Controller) Messages() []*model.Message {
	return c.store.Messages()
}

// =============================================================================
// OUTCOME TYPE
// =============================================================================

// SendOutcome reports what happened to a send. Exactly one of the
// following holds: Redirected with the login URL, or Reply with the AI
// message appended to the transcript. A network failure yields an error
// banner and a non-nil error; the optimistic user message always stays.
type SendOutcome struct {
	Redirected bool
	AuthURL    string
	Reply      *model.Message
}

// =============================================================================
// SEND OPERATIONS
// =============================================================================

// SendText sends a text message. The user message is appended to the
// transcript before the network call so the UI updates immediately; it is
// never removed, even when the send fails. An empty input is a no-op.
func (c *Controller) SendText(ctx context.Context, text string) (*SendOutcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	// Check the session before touching the transcript so a stale token
	// parks the input instead of leaving an orphaned message behind.
	check, err := c.session.EnsureAuthenticated(ctx, c.returnURL, text)
	if err != nil {
		c.banners.push(BannerError, "Failed to send message")
		return nil, err
	}
	if !check.OK {
		return &SendOutcome{Redirected: true, AuthURL: check.AuthURL}, nil
	}

	userMsg := model.NewUserMessage(text)
	if err := c.store.Append(userMsg); err != nil {
		log.Printf("CHAT | failed to persist user message | error=%v", err)
	}

	return c.awaitReply(ctx, text, func() (string, error) {
		return c.gateway.SendText(ctx, text)
	})
}

// SendImage sends an image with an optional prompt. The mime type is
// validated before anything else happens; an unsupported type produces an
// error banner and no transcript change. The data URI is attached to the
// local user message so the transcript can show the image inline.
func (c *Controller) SendImage(ctx context.Context, prompt string, imageData []byte, mimeType string) (*SendOutcome, error) {
	if _, ok := nlip.ImageSubformat(mimeType); !ok {
		c.banners.push(BannerError, fmt.Sprintf("Unsupported image type: %s", mimeType))
		return nil, &nlip.ValidationError{
			Field:   "image type",
			Message: fmt.Sprintf("%q is not a supported image format", mimeType),
		}
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	check, err := c.session.EnsureAuthenticated(ctx, c.returnURL, prompt)
	if err != nil {
		c.banners.push(BannerError, "Failed to send image")
		return nil, err
	}
	if !check.OK {
		return &SendOutcome{Redirected: true, AuthURL: check.AuthURL}, nil
	}

	encoded := base64.StdEncoding.EncodeToString(imageData)
	dataURI := "data:" + mimeType + ";base64," + encoded

	userMsg := model.NewUserImageMessage(prompt, dataURI, mimeType)
	if err := c.store.Append(userMsg); err != nil {
		log.Printf("CHAT | failed to persist image message | error=%v", err)
	}

	return c.awaitReply(ctx, prompt, func() (string, error) {
		return c.gateway.SendImage(ctx, prompt, encoded, mimeType)
	})
}

// awaitReply runs the network half of a send with the typing flag raised.
// The optimistic user message is already in the transcript.
func (c *Controller) awaitReply(ctx context.Context, input string, send func() (string, error)) (*SendOutcome, error) {
	c.typing.Store(true)
	defer c.typing.Store(false)

	reply, err := send()
	if err != nil {
		// Token died between the check and the send: park the input and
		// hand off to the login flow.
		var redirect *auth.RedirectError
		if errors.As(err, &redirect) {
			if c.cache != nil {
				c.cache.CarryAcrossRedirect(c.returnURL, input)
			}
			return &SendOutcome{Redirected: true, AuthURL: redirect.AuthURL}, nil
		}

		log.Printf("CHAT | send failed | error=%v", err)
		c.banners.push(BannerError, "Failed to send message")
		return nil, err
	}

	aiMsg := model.NewAIMessage(reply)
	if err := c.store.Append(aiMsg); err != nil {
		log.Printf("CHAT | failed to persist reply | error=%v", err)
	}

	c.banners.push(BannerSuccess, "Message sent")
	return &SendOutcome{Reply: aiMsg}, nil
}

// =============================================================================
// UPLOADS
// =============================================================================

// Upload sends a staged document through the upload flow. Uploads do not
// touch the transcript: the outcome is reported through banners only.
func (c *Controller) Upload(ctx context.Context, name string, data []byte) (*SendOutcome, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	reply, err := c.gateway.UploadFile(ctx, name, bytes.NewReader(data))
	if err != nil {
		var redirect *auth.RedirectError
		if errors.As(err, &redirect) {
			if c.cache != nil {
				c.cache.Stage(&pending.Upload{
					Kind:     pending.KindDocument,
					Name:     name,
					MimeType: "application/octet-stream",
					Data:     base64.StdEncoding.EncodeToString(data),
				})
				c.cache.CarryAcrossRedirect(c.returnURL, "")
			}
			return &SendOutcome{Redirected: true, AuthURL: redirect.AuthURL}, nil
		}

		log.Printf("CHAT | upload failed | name=%s error=%v", name, err)
		c.banners.push(BannerError, "Upload failed")
		return nil, err
	}

	if reply == "" {
		reply = "File uploaded"
	}
	c.banners.push(BannerSuccess, reply)
	return &SendOutcome{}, nil
}

// =============================================================================
// EDIT AND RESEND
// =============================================================================

// Edit rewrites the content of an existing message in place. The message
// keeps its ID, timestamp, and position, and nothing is re-sent. Returns
// false when the ID is unknown or the new content is blank.
func (c *Controller) Edit(id, newContent string) bool {
	ok, err := c.store.Edit(id, newContent)
	if err != nil {
		log.Printf("CHAT | edit persisted in memory only | id=%s error=%v", id, err)
	}
	return ok
}

// Resend sends the content of an existing user message as a brand new
// message: new ID, new timestamp, appended at the end. The original stays
// where it is.
func (c *Controller) Resend(ctx context.Context, id string) (*SendOutcome, error) {
	var content string
	for _, msg := range c.store.Messages() {
		if msg.ID == id {
			if msg.Role != model.RoleUser {
				return nil, fmt.Errorf("message %s is not a user message", id)
			}
			content = msg.Content
			break
		}
	}
	if content == "" {
		return nil, fmt.Errorf("no such message: %s", id)
	}

	return c.SendText(ctx, content)
}
