// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// nlip is an interactive terminal client for a Natural Language
// Interaction Protocol (NLIP) service: text and image chat, file uploads,
// speech transcription, and a browser-based login flow.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/jeranaias/nlip-client/internal/auth"
	"github.com/jeranaias/nlip-client/internal/chat"
	"github.com/jeranaias/nlip-client/internal/config"
	"github.com/jeranaias/nlip-client/internal/model"
	"github.com/jeranaias/nlip-client/internal/nlip"
	"github.com/jeranaias/nlip-client/internal/pending"
	"github.com/jeranaias/nlip-client/internal/render"
	"github.com/jeranaias/nlip-client/internal/speech"
	"github.com/jeranaias/nlip-client/internal/store"
	"github.com/jeranaias/nlip-client/internal/stream"
	"github.com/jeranaias/nlip-client/internal/util"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	aiStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// =============================================================================
// APP
// =============================================================================

// app bundles the wired session components for the REPL.
type app struct {
	cfg        *config.Config
	session    *auth.Session
	cache      *pending.Cache
	store      *store.MessageStore
	controller *chat.Controller
	renderer   *render.Renderer
	speech     *speech.Client
}

func main() {
	log.SetFlags(0)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "nlip: %v\n", err)
		os.Exit(1)
	}

	cache, err := pending.New(cfg.Storage.PendingDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nlip: failed to prepare pending cache: %v\n", err)
		os.Exit(1)
	}

	session := auth.NewSession(cfg.Service.BaseURL, cache)
	gateway := nlip.NewClient(session).WithBaseURL(cfg.Service.BaseURL)
	st := store.New(cfg.Storage.HistoryPath)
	controller := chat.NewController(st, gateway, session, cache, cfg.Service.ReturnURL)

	a := &app{
		cfg:        cfg,
		session:    session,
		cache:      cache,
		store:      st,
		controller: controller,
		renderer:   render.New(cfg.UI.WordWrap),
		speech:     speech.NewClient().WithBaseURL(cfg.Speech.ProxyURL),
	}

	if err := a.run(); err != nil {
		fmt.Fprintf(os.Stderr, "nlip: %v\n", err)
		os.Exit(1)
	}
}

// run loads history and drives the read-eval loop.
func (a *app) run() error {
	msgs := a.store.Load()
	if len(msgs) > 0 {
		fmt.Println(dimStyle.Render(fmt.Sprintf("Loaded %d messages from history.", len(msgs))))
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("nlip chat client. Type /help for commands, /quit to exit.")

	for {
		a.showBanners()

		input, err := line.Prompt("> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := a.dispatch(input); quit {
				return nil
			}
			continue
		}

		a.send(input)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

// dispatch handles a slash command; returns true to quit.
func (a *app) dispatch(input string) bool {
	parts := strings.SplitN(input, " ", 3)
	cmd := parts[0]

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		a.printHelp()
	case "/history":
		a.printHistory()
	case "/edit":
		if len(parts) < 3 {
			fmt.Println("Usage: /edit <id> <new content>")
			break
		}
		if a.controller.Edit(parts[1], parts[2]) {
			fmt.Println(successStyle.Render("Message updated."))
		} else {
			fmt.Println(errorStyle.Render("No such message, or empty content."))
		}
	case "/resend":
		if len(parts) < 2 {
			fmt.Println("Usage: /resend <id>")
			break
		}
		a.resend(parts[1])
	case "/image":
		if len(parts) < 2 {
			fmt.Println("Usage: /image <path> [prompt]")
			break
		}
		prompt := ""
		if len(parts) == 3 {
			prompt = parts[2]
		}
		a.sendImage(parts[1], prompt)
	case "/upload":
		if len(parts) < 2 {
			fmt.Println("Usage: /upload <path>")
			break
		}
		a.upload(parts[1])
	case "/transcribe":
		if len(parts) < 2 {
			fmt.Println("Usage: /transcribe <audio file>")
			break
		}
		a.transcribe(parts[1])
	case "/stream":
		if len(parts) < 2 {
			fmt.Println("Usage: /stream <audio file>")
			break
		}
		a.streamTranscribe(parts[1])
	case "/login":
		a.login()
	case "/callback":
		if len(parts) < 2 {
			fmt.Println("Usage: /callback <fragment>")
			break
		}
		a.callback(strings.Join(parts[1:], " "))
	default:
		fmt.Printf("Unknown command %s. Type /help.\n", cmd)
	}
	return false
}

func (a *app) printHelp() {
	fmt.Print(`Commands:
  /history              show the transcript with message IDs
  /edit <id> <text>     rewrite a message in place (no resend)
  /resend <id>          send a previous message again as a new one
  /image <path> [text]  send an image with an optional prompt
  /upload <path>        upload a file to the service
  /transcribe <path>    transcribe a recorded audio clip
  /stream <path>        stream audio for live transcription
  /login                start the login flow
  /callback <fragment>  finish the login flow with the callback fragment
  /quit                 exit
Anything else is sent as a chat message.
`)
}

func (a *app) printHistory() {
	msgs := a.store.Messages()
	if len(msgs) == 0 {
		fmt.Println(dimStyle.Render("No messages yet."))
		return
	}
	for _, msg := range msgs {
		marker := ""
		if msg.HasImage() {
			marker = " [image]"
		}
		fmt.Printf("%s  %s%s: %s\n",
			dimStyle.Render(msg.ID),
			roleStyle(msg.Role).Render(msg.Role.DisplayName()),
			marker,
			util.Truncate(util.SingleLine(msg.Content), 70),
		)
	}
}

// =============================================================================
// CHAT ACTIONS
// =============================================================================

func (a *app) send(text string) {
	outcome, err := a.controller.SendText(context.Background(), text)
	a.report(outcome, err)
}

func (a *app) resend(id string) {
	outcome, err := a.controller.Resend(context.Background(), id)
	if err != nil && outcome == nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	a.report(outcome, err)
}

func (a *app) sendImage(path, prompt string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println(errorStyle.Render(fmt.Sprintf("Cannot read %s: %v", path, err)))
		return
	}

	mimeType := mimeTypeForPath(path)
	outcome, err := a.controller.SendImage(context.Background(), prompt, data, mimeType)

	var invalid *nlip.ValidationError
	if errors.As(err, &invalid) {
		fmt.Println(errorStyle.Render(invalid.Error()))
		return
	}
	a.report(outcome, err)
}

func (a *app) upload(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println(errorStyle.Render(fmt.Sprintf("Cannot read %s: %v", path, err)))
		return
	}

	outcome, err := a.controller.Upload(context.Background(), filepath.Base(path), data)
	a.report(outcome, err)
}

// report prints the result of a controller operation.
func (a *app) report(outcome *chat.SendOutcome, err error) {
	if outcome != nil && outcome.Redirected {
		fmt.Println("Authentication required. Open this URL in your browser:")
		fmt.Println("  " + outcome.AuthURL)
		fmt.Println("Then run /callback with the fragment from the redirect URL.")
		return
	}
	if err != nil {
		return // the banner carries the failure
	}
	if outcome != nil && outcome.Reply != nil {
		fmt.Println(aiStyle.Render("AI:"))
		fmt.Println(a.renderer.Render(outcome.Reply))
	}
}

// =============================================================================
// SPEECH ACTIONS
// =============================================================================

func (a *app) transcribe(path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Println(errorStyle.Render(fmt.Sprintf("Cannot read %s: %v", path, err)))
		return
	}
	defer f.Close()

	text, err := a.speech.Transcribe(context.Background(), filepath.Base(path), f)
	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	if text == "" {
		fmt.Println(dimStyle.Render("No speech detected."))
		return
	}
	fmt.Println("Transcript: " + text)
}

func (a *app) streamTranscribe(path string) {
	source, err := newFileAudioSource(path)
	if err != nil {
		fmt.Println(errorStyle.Render(fmt.Sprintf("Cannot read %s: %v", path, err)))
		return
	}

	session := stream.NewSession(source, func(transcript string, final bool) {
		fmt.Println("Transcript: " + transcript)
	}).WithBaseURL(a.cfg.Speech.StreamURL)

	ctx := context.Background()
	if err := session.Start(ctx); err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	defer session.Stop(ctx)

	fmt.Println(dimStyle.Render("Streaming... press Enter to stop."))
	fmt.Scanln()
}

// =============================================================================
// AUTH ACTIONS
// =============================================================================

func (a *app) login() {
	check, err := a.session.EnsureAuthenticated(context.Background(), a.cfg.Service.ReturnURL, "")
	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	if check.OK {
		fmt.Println(successStyle.Render("Already authenticated."))
		return
	}
	fmt.Println("Open this URL in your browser:")
	fmt.Println("  " + check.AuthURL)
	fmt.Println("Then run /callback with the fragment from the redirect URL.")
}

func (a *app) callback(fragment string) {
	result, err := a.session.HandleCallback(fragment)
	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	fmt.Println(successStyle.Render("Authenticated."))

	if result.PendingInput != "" {
		fmt.Println("Restored draft, sending: " + util.Truncate(result.PendingInput, 60))
		a.send(result.PendingInput)
	}
	if result.Upload != nil {
		fmt.Printf("A staged %s upload (%s) is waiting; use /upload or /image to send it again.\n",
			result.Upload.Kind, result.Upload.Name)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (a *app) showBanners() {
	for _, b := range a.controller.Banners() {
		if b.Kind == chat.BannerError {
			fmt.Println(errorStyle.Render("✗ " + b.Text))
		} else {
			fmt.Println(successStyle.Render("✓ " + b.Text))
		}
	}
	if a.controller.Typing() {
		fmt.Println(dimStyle.Render("AI is typing..."))
	}
}

func roleStyle(r model.Role) lipgloss.Style {
	if r == model.RoleAI {
		return aiStyle
	}
	return userStyle
}

// mimeTypeForPath guesses an image mime type from the file extension. The
// controller rejects anything outside the accepted set.
func mimeTypeForPath(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "application/octet-stream"
	}
	return "image/" + ext
}

// =============================================================================
// FILE AUDIO SOURCE
// =============================================================================

// fileAudioSource feeds a pre-recorded file to the streaming session in
// fixed-size chunks, standing in for a live capture device.
type fileAudioSource struct {
	f   *os.File
	buf []byte
}

func newFileAudioSource(path string) (*fileAudioSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &fileAudioSource{f: f, buf: make([]byte, 4096)}, nil
}

// NextChunk returns the next slice of the file; io.EOF ends the stream.
func (s *fileAudioSource) NextChunk(ctx context.Context) ([]byte, error) {
	n, err := s.f.Read(s.buf)
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, s.buf[:n])
		return chunk, nil
	}
	return nil, err
}

// Close releases the file.
func (s *fileAudioSource) Close() error {
	return s.f.Close()
}
