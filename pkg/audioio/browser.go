package audioio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrNotCapturing is returned by PushSource.Push while capture is stopped.
var ErrNotCapturing = errors.New("audioio: source is not capturing")

// PushSource is a capture source fed externally, one frame at a time. The
// dashboard microphone websocket pushes little-endian PCM16 frames into it.
// Push never blocks: when the consumer falls behind, frames are dropped and
// counted as overruns.
type PushSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewPushSource creates a push-fed source.
func NewPushSource(cfg Config, logger *slog.Logger) *PushSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk),
	}
}

// Start begins accepting pushed frames.
func (p *PushSource) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return io.ErrClosedPipe
	}
	if p.running {
		return nil
	}
	p.running = true
	p.streamCh = make(chan AudioChunk, 32)
	p.logger.Debug("browser capture started", "sample_rate", p.cfg.SampleRate)
	return nil
}

// Push delivers one frame of little-endian PCM16 at the configured rate.
func (p *PushSource) Push(frame []byte) error {
	var chunk AudioChunk
	chunk.FromBytes(frame, p.cfg.SampleRate, p.cfg.Channels)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrNotCapturing
	}
	select {
	case p.streamCh <- chunk:
		p.chunksRead.Add(1)
		p.samplesRead.Add(int64(len(chunk.Samples)))
	default:
		p.overruns.Add(1)
	}
	return nil
}

// Capturing reports whether pushed frames are being accepted.
func (p *PushSource) Capturing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stop halts capture; frames pushed afterwards are rejected.
func (p *PushSource) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false
	close(p.streamCh)
	p.logger.Debug("browser capture stopped")
	return nil
}

// Read reads the next pushed chunk.
func (p *PushSource) Read(ctx context.Context) (AudioChunk, error) {
	ch := p.Stream()
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the chunk channel of the current run.
func (p *PushSource) Stream() <-chan AudioChunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamCh
}

func (p *PushSource) Config() Config { return p.cfg }
func (p *PushSource) Name() string   { return string(BackendBrowser) }

// Close stops capture permanently.
func (p *PushSource) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Stop()
}

// Stats returns source statistics.
func (p *PushSource) Stats() SourceStats {
	return SourceStats{
		ChunksRead:  p.chunksRead.Load(),
		SamplesRead: p.samplesRead.Load(),
		Overruns:    p.overruns.Load(),
		Running:     p.Capturing(),
		Backend:     string(BackendBrowser),
	}
}

var _ SourceWithStats = (*PushSource)(nil)

// FuncSink hands every chunk to a relay function. The dashboard uses it to
// forward playback audio to connected speaker websockets.
type FuncSink struct {
	cfg    Config
	relay  func(AudioChunk) error
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
}

// NewFuncSink creates a sink that forwards to relay.
func NewFuncSink(cfg Config, relay func(AudioChunk) error, logger *slog.Logger) *FuncSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FuncSink{cfg: cfg, relay: relay, logger: logger}
}

// Start begins forwarding.
func (s *FuncSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.running = true
	return nil
}

// Stop halts forwarding.
func (s *FuncSink) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// Write forwards a chunk.
func (s *FuncSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	ok := s.running && !s.closed
	s.mu.Unlock()
	if !ok {
		return io.ErrClosedPipe
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.relay(chunk); err != nil {
		return err
	}
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush is a no-op; chunks are forwarded synchronously.
func (s *FuncSink) Flush(ctx context.Context) error { return nil }

// Clear is a no-op; the relay keeps no buffer.
func (s *FuncSink) Clear() error { return nil }

func (s *FuncSink) Config() Config { return s.cfg }
func (s *FuncSink) Name() string   { return string(BackendBrowser) }

// Close stops forwarding permanently.
func (s *FuncSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.running = false
	s.mu.Unlock()
	return nil
}

// Stats returns sink statistics.
func (s *FuncSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Running:        running,
		Backend:        string(BackendBrowser),
	}
}

var _ SinkWithStats = (*FuncSink)(nil)
