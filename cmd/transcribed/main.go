// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// transcribed is the speech-transcription proxy server. It accepts
// recorded audio from clients and forwards it to the cloud speech API,
// keeping the API credentials off the client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/nlip-client/internal/config"
	"github.com/jeranaias/nlip-client/internal/server"
)

func main() {
	log.SetFlags(0)

	var (
		port   = flag.Int("port", 0, "listen port (default from config)")
		apiKey = flag.String("api-key", "", "cloud speech API key (default from config)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "transcribed: %v\n", err)
		os.Exit(1)
	}

	if *port == 0 {
		*port = cfg.Server.Port
	}
	if *apiKey == "" {
		*apiKey = cfg.Server.SpeechAPIKey
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "transcribed: no speech API key configured (set -api-key or NLIP_SPEECH_API_KEY)")
		os.Exit(1)
	}

	srv := server.NewServer(*port, server.NewCloudTranscriber(*apiKey))

	// Graceful shutdown on SIGINT/SIGTERM.
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "transcribed: %v\n", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Printf("SERVER_SIGNAL | signal=%s", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "transcribed: shutdown failed: %v\n", err)
			os.Exit(1)
		}
	}
}
