// Package audioio provides the audio endpoints the console bridges to the
// AI channel.
//
// Backends:
//   - mock: synthetic capture and a recording sink, for tests
//   - browser: microphone frames pushed from the dashboard websocket, and
//     playback chunks handed to a callback that relays them back
//   - rtp: playback packetized with pion/rtp and sent over UDP
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
	// BackendBrowser exchanges audio with the dashboard over websockets.
	BackendBrowser Backend = "browser"
	// BackendRTP streams playback audio as RTP over UDP.
	BackendRTP Backend = "rtp"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendMock, BackendBrowser, BackendRTP:
		return b, nil
	}
	return "", fmt.Errorf("audioio: unsupported backend %q", s)
}

// Config holds audio configuration.
type Config struct {
	Backend Backend `json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Capture defaults to 16000, playback to 24000.
	SampleRate int `json:"sample_rate"`

	// Channels is the number of audio channels.
	Channels int `json:"channels"`

	// BufferDuration is the capture frame size.
	BufferDuration time.Duration `json:"buffer_duration"`

	// Target is the UDP destination for the rtp backend (host:port).
	Target string `json:"target,omitempty"`
}

// DefaultConfig returns the playback defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendBrowser,
		SampleRate:     24000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// CaptureConfig returns the microphone defaults.
func CaptureConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleRate = 16000
	return cfg
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	if c.Backend == BackendRTP && c.Target == "" {
		return fmt.Errorf("rtp backend requires a target address")
	}
	return nil
}

// BufferSize returns the number of samples per frame.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a frame in bytes.
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
