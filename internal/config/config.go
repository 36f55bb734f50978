// Package config holds the go-fleet server configuration.
// Flag parsing is done in cmd/fleetd; this package is data, defaults and env overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Defaults.
const (
	DefaultPort             = "8080"
	DefaultSettleDelay      = 1500 * time.Millisecond
	DefaultModel            = "models/gemini-2.0-flash-exp"
	DefaultVoice            = "Puck"
	DefaultLiveURL          = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
	DefaultFrameDuration    = 20 * time.Millisecond
	DefaultSpeakerBackend   = "browser"
)

// Config holds all configuration for the fleet console.
type Config struct {
	// Port is the dashboard HTTP port.
	Port string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// DeviceConfig is a file path or http(s) URL of the device list.
	// Empty starts with an empty registry.
	DeviceConfig string

	// SettleDelay models device command latency.
	SettleDelay time.Duration

	// Real-time channel settings.
	Model   string
	Voice   string
	LiveURL string

	// CredentialFile holds an API key on its first line.
	CredentialFile string

	// Audio settings.
	InputSampleRate  int           // sent to the channel
	OutputSampleRate int           // received from the channel
	FrameDuration    time.Duration // microphone frame size

	// SpeakerBackend selects where synthesized audio plays: browser, rtp or mock.
	SpeakerBackend string

	// RTPTarget is host:port for the rtp speaker backend.
	RTPTarget string

	// StaticDir is served at / by the dashboard.
	StaticDir string
}

// Default returns sensible defaults.
func Default() Config {
	cfg := Config{
		Port:             DefaultPort,
		LogLevel:         "info",
		SettleDelay:      DefaultSettleDelay,
		Model:            DefaultModel,
		Voice:            DefaultVoice,
		LiveURL:          DefaultLiveURL,
		InputSampleRate:  DefaultInputSampleRate,
		OutputSampleRate: DefaultOutputSampleRate,
		FrameDuration:    DefaultFrameDuration,
		SpeakerBackend:   DefaultSpeakerBackend,
		StaticDir:        "./web",
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.CredentialFile = filepath.Join(home, ".fleet", "credentials")
	}
	return cfg
}

// LoadEnv applies environment overrides. API keys are not read here;
// see pkg/credential.
func (c *Config) LoadEnv() {
	if v := os.Getenv("FLEET_PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FLEET_DEVICES"); v != "" {
		c.DeviceConfig = v
	}
	if v := os.Getenv("FLEET_SETTLE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.SettleDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("GEMINI_VOICE"); v != "" {
		c.Voice = v
	}
	if v := os.Getenv("FLEET_SPEAKER"); v != "" {
		c.SpeakerBackend = v
	}
	if v := os.Getenv("FLEET_RTP_TARGET"); v != "" {
		c.RTPTarget = v
	}
	if v := os.Getenv("FLEET_CREDENTIALS"); v != "" {
		c.CredentialFile = v
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Port == "" {
		return &ConfigError{Field: "Port", Message: "port is required"}
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return &ConfigError{Field: "Port", Message: fmt.Sprintf("port must be numeric, got %q", c.Port)}
	}
	if c.SettleDelay < 0 {
		return &ConfigError{Field: "SettleDelay", Message: "settle delay must not be negative"}
	}
	if c.InputSampleRate <= 0 || c.OutputSampleRate <= 0 {
		return &ConfigError{Field: "SampleRate", Message: "sample rates must be positive"}
	}
	if c.FrameDuration <= 0 {
		return &ConfigError{Field: "FrameDuration", Message: "frame duration must be positive"}
	}
	switch c.SpeakerBackend {
	case "browser", "mock":
	case "rtp":
		if c.RTPTarget == "" {
			return &ConfigError{Field: "RTPTarget", Message: "FLEET_RTP_TARGET is required for the rtp speaker"}
		}
	default:
		return &ConfigError{Field: "SpeakerBackend", Message: fmt.Sprintf("unknown speaker backend %q", c.SpeakerBackend)}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
