// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/nlip-client/internal/auth"
	"github.com/jeranaias/nlip-client/internal/model"
	"github.com/jeranaias/nlip-client/internal/nlip"
	"github.com/jeranaias/nlip-client/internal/pending"
	"github.com/jeranaias/nlip-client/internal/store"
)

// fakeGateway scripts the gateway's answers.
type fakeGateway struct {
	reply     string
	err       error
	textCalls int
	lastText  string
}

func (f *fakeGateway) SendText(ctx context.Context, text string) (string, error) {
	f.textCalls++
	f.lastText = text
	return f.reply, f.err
}

func (f *fakeGateway) SendImage(ctx context.Context, prompt, base64Image, mimeType string) (string, error) {
	return f.reply, f.err
}

func (f *fakeGateway) UploadFile(ctx context.Context, name string, r io.Reader) (string, error) {
	return f.reply, f.err
}

// newAuthedController builds a controller whose session passes validation
// against a local liveness endpoint.
func newAuthedController(t *testing.T, gw Gateway) *Controller {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	cache, err := pending.New(t.TempDir())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}

	session := auth.NewSession(srv.URL, cache)
	if err := session.SetToken("tok", time.Now().Add(time.Hour).Format(time.RFC3339)); err != nil {
		t.Fatalf("token: %v", err)
	}

	st := store.New(filepath.Join(t.TempDir(), "history.json"))
	return NewController(st, gw, session, cache, "/chat")
}

func TestSendTextOptimisticAppend(t *testing.T) {
	gw := &fakeGateway{reply: "hello back"}
	c := newAuthedController(t, gw)

	outcome, err := c.SendText(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if outcome.Redirected {
		t.Fatal("unexpected redirect")
	}
	if outcome.Reply == nil || outcome.Reply.Content != "hello back" {
		t.Errorf("reply = %+v", outcome.Reply)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != model.RoleAI || msgs[1].Content != "hello back" {
		t.Errorf("ai message = %+v", msgs[1])
	}

	banners := c.Banners()
	if len(banners) != 1 || banners[0].Kind != BannerSuccess {
		t.Errorf("banners = %+v", banners)
	}
}

func TestSendTextEmptyIsNoOp(t *testing.T) {
	gw := &fakeGateway{}
	c := newAuthedController(t, gw)

	outcome, err := c.SendText(context.Background(), "  \n ")
	if outcome != nil || err != nil {
		t.Errorf("expected nil, nil; got %+v, %v", outcome, err)
	}
	if gw.textCalls != 0 {
		t.Error("empty input must not reach the gateway")
	}
	if len(c.Messages()) != 0 {
		t.Error("empty input must not touch the transcript")
	}
}

func TestSendTextFailureKeepsUserMessage(t *testing.T) {
	gw := &fakeGateway{err: errors.New("network down")}
	c := newAuthedController(t, gw)

	_, err := c.SendText(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}

	// The optimistic message stays; nothing is rolled back.
	msgs := c.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("user message = %+v", msgs[0])
	}

	banners := c.Banners()
	if len(banners) != 1 || banners[0].Kind != BannerError {
		t.Fatalf("banners = %+v", banners)
	}
	if banners[0].Text != "Failed to send message" {
		t.Errorf("banner text = %q", banners[0].Text)
	}
}

func TestBannersExpire(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	c := newAuthedController(t, gw)

	base := time.Now()
	c.banners.now = func() time.Time { return base }

	if _, err := c.SendText(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if len(c.Banners()) != 1 {
		t.Fatal("expected a success banner")
	}

	// Success banners dismiss after their TTL.
	c.banners.now = func() time.Time { return base.Add(SuccessBannerTTL + time.Second) }
	if got := c.Banners(); len(got) != 0 {
		t.Errorf("expected banner to expire, got %+v", got)
	}
}

func TestSendTextRedirectParksInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Unauthenticated request for the login URL.
		w.Write([]byte(`{"url": "https://login.example/start"}`))
	}))
	defer srv.Close()

	cache, err := pending.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	session := auth.NewSession(srv.URL, cache) // no token

	gw := &fakeGateway{}
	st := store.New(filepath.Join(t.TempDir(), "history.json"))
	c := NewController(st, gw, session, cache, "/chat")

	outcome, err := c.SendText(context.Background(), "half-typed")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if !outcome.Redirected || outcome.AuthURL != "https://login.example/start" {
		t.Errorf("outcome = %+v", outcome)
	}

	if gw.textCalls != 0 {
		t.Error("a redirect must short-circuit the send")
	}
	if len(c.Messages()) != 0 {
		t.Error("a redirect must not leave an orphaned message in the transcript")
	}

	returnURL, input, _ := cache.RestoreAfterRedirect()
	if returnURL != "/chat" || input != "half-typed" {
		t.Errorf("parked state = %q %q", returnURL, input)
	}
}

func TestSendImageRejectsBadMime(t *testing.T) {
	gw := &fakeGateway{}
	c := newAuthedController(t, gw)

	_, err := c.SendImage(context.Background(), "look", []byte{1, 2, 3}, "image/tiff")
	var invalid *nlip.ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *nlip.ValidationError, got %v", err)
	}
	if len(c.Messages()) != 0 {
		t.Error("rejected image must not touch the transcript")
	}
	if banners := c.Banners(); len(banners) != 1 || banners[0].Kind != BannerError {
		t.Errorf("banners = %+v", banners)
	}
}

func TestSendImageAttachesDataURI(t *testing.T) {
	gw := &fakeGateway{reply: "a drawing"}
	c := newAuthedController(t, gw)

	outcome, err := c.SendImage(context.Background(), "what is this", []byte{1, 2, 3}, "image/png")
	if err != nil {
		t.Fatalf("SendImage failed: %v", err)
	}
	if outcome.Reply == nil || outcome.Reply.Content != "a drawing" {
		t.Errorf("reply = %+v", outcome.Reply)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !msgs[0].HasImage() {
		t.Fatal("user message should carry the image")
	}
	if msgs[0].Attachment.DataURI != "data:image/png;base64,AQID" {
		t.Errorf("data URI = %q", msgs[0].Attachment.DataURI)
	}
}

func TestUploadDoesNotTouchTranscript(t *testing.T) {
	gw := &fakeGateway{reply: "stored as doc-42"}
	c := newAuthedController(t, gw)

	if _, err := c.Upload(context.Background(), "notes.txt", []byte("contents")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if len(c.Messages()) != 0 {
		t.Error("uploads must not appear in the transcript")
	}
	banners := c.Banners()
	if len(banners) != 1 || banners[0].Text != "stored as doc-42" {
		t.Errorf("banners = %+v", banners)
	}
}

func TestUploadFailure(t *testing.T) {
	gw := &fakeGateway{err: errors.New("disk full")}
	c := newAuthedController(t, gw)

	_, err := c.Upload(context.Background(), "notes.txt", []byte("contents"))
	if err == nil {
		t.Fatal("expected error")
	}
	banners := c.Banners()
	if len(banners) != 1 || banners[0].Text != "Upload failed" {
		t.Errorf("banners = %+v", banners)
	}
	if len(c.Messages()) != 0 {
		t.Error("failed upload must not touch the transcript")
	}
}

func TestEditDoesNotResend(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	c := newAuthedController(t, gw)

	if _, err := c.SendText(context.Background(), "original"); err != nil {
		t.Fatal(err)
	}
	sent := gw.textCalls

	msgs := c.Messages()
	if !c.Edit(msgs[0].ID, "edited") {
		t.Fatal("edit failed")
	}

	if gw.textCalls != sent {
		t.Error("edit must not trigger a send")
	}
	after := c.Messages()
	if after[0].Content != "edited" || after[0].ID != msgs[0].ID {
		t.Errorf("edited message = %+v", after[0])
	}
}

func TestResendIsANewMessage(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	c := newAuthedController(t, gw)

	if _, err := c.SendText(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	original := c.Messages()[0]

	outcome, err := c.Resend(context.Background(), original.ID)
	if err != nil {
		t.Fatalf("Resend failed: %v", err)
	}
	if outcome.Reply == nil {
		t.Fatal("expected a reply")
	}
	if gw.lastText != "hello" {
		t.Errorf("resent content = %q", gw.lastText)
	}

	msgs := c.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	resent := msgs[2]
	if resent.ID == original.ID {
		t.Error("resend must mint a new ID")
	}
	if resent.Content != original.Content {
		t.Errorf("resent content = %q", resent.Content)
	}
}

func TestResendRejectsAIMessages(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	c := newAuthedController(t, gw)

	if _, err := c.SendText(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	aiMsg := c.Messages()[1]

	if _, err := c.Resend(context.Background(), aiMsg.ID); err == nil {
		t.Error("expected error resending an AI message")
	}
}
