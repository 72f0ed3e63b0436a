// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the NLIP client and
// the transcription proxy.
//
// Configuration sources (in order of precedence):
//   - Environment variables (NLIP_*)
//   - ~/.nlip/config.toml
//   - Built-in defaults
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete client configuration.
type Config struct {
	// Service is the NLIP service connection.
	Service ServiceConfig `toml:"service"`

	// Storage controls where local state lives.
	Storage StorageConfig `toml:"storage"`

	// Speech is the transcription setup (batch proxy + live relay).
	Speech SpeechConfig `toml:"speech"`

	// UI configuration.
	UI UIConfig `toml:"ui"`

	// Server configures the transcription proxy binary.
	Server ServerConfig `toml:"server"`
}

// ServiceConfig contains the NLIP service connection settings.
type ServiceConfig struct {
	// BaseURL is the NLIP service root.
	BaseURL string `toml:"base_url"`
	// ReturnURL is where the login flow resumes after authentication.
	ReturnURL string `toml:"return_url"`
}

// StorageConfig contains local persistence settings.
type StorageConfig struct {
	// HistoryPath is the chat transcript file (empty = ~/.nlip/history.json).
	HistoryPath string `toml:"history_path"`
	// PendingDir is the scratch directory for redirect state
	// (empty = ~/.nlip/pending).
	PendingDir string `toml:"pending_dir"`
}

// SpeechConfig contains transcription settings.
type SpeechConfig struct {
	// ProxyURL is the batch transcription proxy.
	ProxyURL string `toml:"proxy_url"`
	// StreamURL is the live transcription relay.
	StreamURL string `toml:"stream_url"`
}

// UIConfig contains terminal display settings.
type UIConfig struct {
	// WordWrap is the markdown render width.
	WordWrap int `toml:"word_wrap"`
}

// ServerConfig contains transcription proxy settings.
type ServerConfig struct {
	// Port is the listen port.
	Port int `toml:"port"`
	// SpeechAPIKey is the cloud speech API key.
	SpeechAPIKey string `toml:"speech_api_key"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			BaseURL:   "https://druid.eecs.umich.edu",
			ReturnURL: "/",
		},
		Speech: SpeechConfig{
			ProxyURL:  "http://localhost:3000",
			StreamURL: "http://localhost:3000",
		},
		UI: UIConfig{
			WordWrap: 80,
		},
		Server: ServerConfig{
			Port: 3000,
		},
	}
}

// ConfigDir returns the configuration directory (~/.nlip).
func ConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".nlip"), nil
}

// ConfigPath returns the TOML config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration: defaults, then the config file if present,
// then environment overrides. A missing file is not an error.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, err
			}
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies NLIP_* environment variables on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("NLIP_SERVICE_URL"); v != "" {
		c.Service.BaseURL = v
	}
	if v := os.Getenv("NLIP_HISTORY_PATH"); v != "" {
		c.Storage.HistoryPath = v
	}
	if v := os.Getenv("NLIP_TRANSCRIBE_URL"); v != "" {
		c.Speech.ProxyURL = v
	}
	if v := os.Getenv("NLIP_STREAM_URL"); v != "" {
		c.Speech.StreamURL = v
	}
	if v := os.Getenv("NLIP_SPEECH_API_KEY"); v != "" {
		c.Server.SpeechAPIKey = v
	}
	if v := os.Getenv("NLIP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// setDefaults fills paths that depend on the home directory.
func (c *Config) setDefaults() {
	dir, err := ConfigDir()
	if err != nil {
		return
	}
	if c.Storage.HistoryPath == "" {
		c.Storage.HistoryPath = filepath.Join(dir, "history.json")
	}
	if c.Storage.PendingDir == "" {
		c.Storage.PendingDir = filepath.Join(dir, "pending")
	}
	if c.UI.WordWrap <= 0 {
		c.UI.WordWrap = 80
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"service.base_url":  c.Service.BaseURL,
		"speech.proxy_url":  c.Speech.ProxyURL,
		"speech.stream_url": c.Speech.StreamURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s is not a valid URL: %q", name, raw)
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
