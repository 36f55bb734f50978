package audioio

import (
	"fmt"
	"log/slog"
)

// NewSource creates a capture source for cfg.Backend. The rtp backend is
// playback-only.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("creating audio source",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch cfg.Backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendBrowser:
		return NewPushSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported source backend: %s", cfg.Backend)
	}
}

// NewSink creates a playback sink. relay receives chunks for the browser
// backend and is ignored otherwise.
func NewSink(cfg Config, relay func(AudioChunk) error, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("creating audio sink",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"target", cfg.Target,
	)

	switch cfg.Backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendBrowser:
		if relay == nil {
			return nil, fmt.Errorf("browser sink requires a relay")
		}
		return NewFuncSink(cfg, relay, logger), nil
	case BackendRTP:
		return NewRTPSink(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported sink backend: %s", cfg.Backend)
	}
}
