package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
)

// RTPPayloadType is the dynamic payload type used for playback packets.
const RTPPayloadType = 96

// payloadEncoder turns fixed-size PCM frames into RTP payloads.
type payloadEncoder interface {
	// ClockRate is both the encoder input rate and the RTP clock rate.
	ClockRate() int
	// FrameSamples is the number of samples per packet.
	FrameSamples() int
	Encode(frame []int16) ([]byte, error)
	Name() string
}

// RTPSink packetizes playback audio and sends it over UDP, the way a
// gstreamer rtp payloader feeding udpsink would. Samples are resampled to
// the encoder clock rate and cut into fixed frames; a partial trailing
// frame is held until the next Write or Flush.
type RTPSink struct {
	cfg    Config
	logger *slog.Logger
	enc    payloadEncoder

	mu      sync.Mutex
	conn    io.WriteCloser
	running bool
	closed  bool
	pending []int16
	seq     uint16
	ts      uint32
	ssrc    uint32

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	packetsSent    atomic.Int64
}

// NewRTPSink creates a sink sending to cfg.Target.
func NewRTPSink(cfg Config, logger *slog.Logger) (*RTPSink, error) {
	enc, err := newPayloadEncoder()
	if err != nil {
		return nil, fmt.Errorf("audioio: rtp encoder: %w", err)
	}
	return newRTPSink(cfg, enc, nil, logger), nil
}

func newRTPSink(cfg Config, enc payloadEncoder, conn io.WriteCloser, logger *slog.Logger) *RTPSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &RTPSink{
		cfg:    cfg,
		logger: logger,
		enc:    enc,
		conn:   conn,
		seq:    uint16(rand.UintN(1 << 16)),
		ts:     rand.Uint32(),
		ssrc:   rand.Uint32(),
	}
}

// Start dials the UDP target.
func (s *RTPSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}
	if s.conn == nil {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "udp", s.cfg.Target)
		if err != nil {
			return fmt.Errorf("audioio: dial %s: %w", s.cfg.Target, err)
		}
		s.conn = conn
	}
	s.running = true
	s.logger.Info("rtp sink started", "target", s.cfg.Target, "codec", s.enc.Name(), "ssrc", s.ssrc)
	return nil
}

// Stop halts sending. Pending samples are kept.
func (s *RTPSink) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// Write queues chunk and sends every complete frame.
func (s *RTPSink) Write(ctx context.Context, chunk AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples := chunk.Samples
	if chunk.Channels == 2 {
		samples = StereoToMono(samples)
	}
	rate := chunk.SampleRate
	if rate == 0 {
		rate = s.cfg.SampleRate
	}
	samples = Resample(samples, rate, s.enc.ClockRate())

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.closed {
		return io.ErrClosedPipe
	}
	s.pending = append(s.pending, samples...)
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))

	return s.drainLocked(false)
}

// Flush sends the trailing partial frame padded with silence.
func (s *RTPSink) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	return s.drainLocked(true)
}

func (s *RTPSink) drainLocked(pad bool) error {
	n := s.enc.FrameSamples()
	if pad && len(s.pending)%n != 0 {
		s.pending = append(s.pending, make([]int16, n-len(s.pending)%n)...)
	}
	for len(s.pending) >= n {
		payload, err := s.enc.Encode(s.pending[:n])
		if err != nil {
			return fmt.Errorf("audioio: encode: %w", err)
		}
		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    RTPPayloadType,
				SequenceNumber: s.seq,
				Timestamp:      s.ts,
				SSRC:           s.ssrc,
			},
			Payload: payload,
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("audioio: marshal rtp: %w", err)
		}
		if _, err := s.conn.Write(raw); err != nil {
			return fmt.Errorf("audioio: send rtp: %w", err)
		}
		s.packetsSent.Add(1)
		s.seq++
		s.ts += uint32(n)
		s.pending = s.pending[n:]
	}
	return nil
}

// Clear drops pending samples.
func (s *RTPSink) Clear() error {
	s.mu.Lock()
	s.pending = s.pending[:0]
	s.mu.Unlock()
	return nil
}

func (s *RTPSink) Config() Config { return s.cfg }
func (s *RTPSink) Name() string   { return string(BackendRTP) }

// Close closes the UDP socket.
func (s *RTPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.running = false
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Stats returns sink statistics.
func (s *RTPSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	buffered := int64(len(s.pending))
	s.mu.Unlock()
	return SinkStats{
		ChunksWritten:   s.chunksWritten.Load(),
		SamplesWritten:  s.samplesWritten.Load(),
		Running:         running,
		Backend:         string(BackendRTP),
		BufferedSamples: buffered,
	}
}

var _ SinkWithStats = (*RTPSink)(nil)
