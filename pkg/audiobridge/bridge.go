// Package audiobridge moves audio between the local endpoints and the AI
// channel: captured microphone frames go out through a bounded queue that
// never stalls capture, and inbound synthesized chunks are scheduled
// back-to-back for gapless playback.
package audiobridge

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-fleet/pkg/audioio"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("audiobridge: closed")
	// ErrOutboundActive is returned when StartOutbound is called twice.
	ErrOutboundActive = errors.New("audiobridge: outbound already started")
)

// SendFunc transmits one encoded frame to the AI channel.
type SendFunc func(frame []byte) error

// Config holds bridge settings.
type Config struct {
	// InputSampleRate is the outbound wire rate.
	InputSampleRate int
	// OutputSampleRate is the rate of inbound payloads.
	OutputSampleRate int
	// QueueSize bounds outbound frames waiting for the sender.
	QueueSize int
}

// DefaultConfig returns the rates the Gemini Live API uses.
func DefaultConfig() Config {
	return Config{
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
		QueueSize:        50,
	}
}

// Stats are bridge counters.
type Stats struct {
	FramesCaptured  int64 `json:"frames_captured"`
	FramesSent      int64 `json:"frames_sent"`
	FramesDropped   int64 `json:"frames_dropped"`
	SendErrors      int64 `json:"send_errors"`
	ChunksScheduled int64 `json:"chunks_scheduled"`
	ChunksPlayed    int64 `json:"chunks_played"`
	Speaking        bool  `json:"speaking"`
}

type playItem struct {
	chunk audioio.AudioChunk
	slot  Slot
	gen   uint64
}

// Bridge is the audio path of one session. It owns both endpoints for the
// session's lifetime: Close releases the microphone and closes the sink.
type Bridge struct {
	cfg    Config
	src    audioio.Source
	sink   audioio.Sink
	sched  *Scheduler
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	outMu    sync.Mutex
	outbound bool
	queue    chan []byte

	playMu   sync.Mutex
	playQ    []playItem
	playWake chan struct{}
	playGen  uint64

	speaking   atomic.Bool
	subsMu     sync.RWMutex
	onSpeaking []func(bool)

	closeOnce sync.Once
	closed    atomic.Bool

	framesCaptured  atomic.Int64
	framesSent      atomic.Int64
	framesDropped   atomic.Int64
	sendErrors      atomic.Int64
	chunksScheduled atomic.Int64
	chunksPlayed    atomic.Int64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithClock replaces time.Now and the playback wait, for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(b *Bridge) {
		b.now = now
		b.sleep = sleep
	}
}

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// New creates a bridge over src and sink and starts its player.
func New(cfg Config, src audioio.Source, sink audioio.Sink, opts ...Option) *Bridge {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	b := &Bridge{
		cfg:      cfg,
		src:      src,
		sink:     sink,
		logger:   slog.Default(),
		now:      time.Now,
		sleep:    sleepCtx,
		playWake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.sched = NewScheduler(b.now)
	b.ctx, b.cancel = context.WithCancel(context.Background())

	b.wg.Add(1)
	go b.playLoop()
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acquire starts the microphone and the sink. An error from the source
// means microphone access was refused.
func (b *Bridge) Acquire(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.src.Start(ctx); err != nil {
		return err
	}
	if err := b.sink.Start(ctx); err != nil {
		b.src.Stop()
		return err
	}
	return nil
}

// StartOutbound begins streaming captured frames to send. Capture never
// blocks on send: when the queue is full the oldest frame is dropped.
func (b *Bridge) StartOutbound(send SendFunc) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.outMu.Lock()
	defer b.outMu.Unlock()
	if b.outbound {
		return ErrOutboundActive
	}
	b.outbound = true
	b.queue = make(chan []byte, b.cfg.QueueSize)

	// The sender is not tracked by wg: Close abandons an in-flight send
	// rather than waiting on the network.
	b.wg.Add(1)
	go b.captureLoop(b.queue)
	go b.sendLoop(b.queue, send)
	return nil
}

func (b *Bridge) captureLoop(queue chan []byte) {
	defer b.wg.Done()
	stream := b.src.Stream()
	for {
		select {
		case <-b.ctx.Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			b.framesCaptured.Add(1)
			b.enqueue(queue, audioio.EncodePCM16(chunk, b.cfg.InputSampleRate))
		}
	}
}

// enqueue is only called from captureLoop, the queue's single producer.
func (b *Bridge) enqueue(queue chan []byte, frame []byte) {
	for {
		select {
		case queue <- frame:
			return
		default:
		}
		select {
		case <-queue:
			b.framesDropped.Add(1)
		default:
		}
	}
}

func (b *Bridge) sendLoop(queue chan []byte, send SendFunc) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case frame := <-queue:
			if b.ctx.Err() != nil {
				return
			}
			if err := send(frame); err != nil {
				if b.sendErrors.Add(1) == 1 {
					b.logger.Warn("audio frame send failed", "error", err)
				}
				continue
			}
			b.framesSent.Add(1)
		}
	}
}

// HandleInbound decodes an inbound payload and schedules it after every
// chunk already scheduled.
func (b *Bridge) HandleInbound(payload []byte) (Slot, error) {
	if b.closed.Load() {
		return Slot{}, ErrClosed
	}
	chunk, err := audioio.DecodePCM16(payload, b.cfg.OutputSampleRate)
	if err != nil {
		return Slot{}, err
	}

	b.playMu.Lock()
	slot := b.sched.Schedule(chunk.Duration())
	b.playQ = append(b.playQ, playItem{chunk: chunk, slot: slot, gen: b.playGen})
	started := !b.speaking.Swap(true)
	b.playMu.Unlock()

	b.chunksScheduled.Add(1)
	if started {
		b.notify(true)
	}

	select {
	case b.playWake <- struct{}{}:
	default:
	}
	return slot, nil
}

func (b *Bridge) playLoop() {
	defer b.wg.Done()
	for {
		item, ok := b.nextItem()
		if !ok {
			select {
			case <-b.ctx.Done():
				return
			case <-b.playWake:
				continue
			}
		}

		if err := b.sleep(b.ctx, item.slot.Start.Sub(b.now())); err != nil {
			return
		}
		if !b.current(item.gen) {
			continue
		}
		if err := b.sink.Write(b.ctx, item.chunk); err != nil {
			b.logger.Debug("playback write failed", "seq", item.slot.Seq, "error", err)
		} else {
			b.chunksPlayed.Add(1)
		}
		if err := b.sleep(b.ctx, item.slot.End.Sub(b.now())); err != nil {
			return
		}
		b.playMu.Lock()
		idle := item.gen == b.playGen && len(b.playQ) == 0 && b.sched.Drained()
		stopped := idle && b.speaking.Swap(false)
		b.playMu.Unlock()
		if stopped {
			b.notify(false)
		}
	}
}

func (b *Bridge) nextItem() (playItem, bool) {
	b.playMu.Lock()
	defer b.playMu.Unlock()
	if len(b.playQ) == 0 {
		return playItem{}, false
	}
	item := b.playQ[0]
	b.playQ = slices.Delete(b.playQ, 0, 1)
	return item, true
}

func (b *Bridge) current(gen uint64) bool {
	b.playMu.Lock()
	defer b.playMu.Unlock()
	return gen == b.playGen
}

// Interrupt discards scheduled playback, as when the user talks over the
// model.
func (b *Bridge) Interrupt() {
	b.playMu.Lock()
	dropped := len(b.playQ)
	b.playQ = b.playQ[:0]
	b.playGen++
	b.sched.Reset()
	stopped := b.speaking.Swap(false)
	b.playMu.Unlock()

	b.sink.Clear()
	if stopped {
		b.notify(false)
	}
	if dropped > 0 {
		b.logger.Debug("playback interrupted", "dropped_chunks", dropped)
	}
}

// Speaking reports whether inbound audio is scheduled or playing.
func (b *Bridge) Speaking() bool { return b.speaking.Load() }

// OnSpeaking registers fn to observe speaking transitions.
func (b *Bridge) OnSpeaking(fn func(bool)) {
	b.subsMu.Lock()
	b.onSpeaking = append(b.onSpeaking, fn)
	b.subsMu.Unlock()
}

func (b *Bridge) notify(v bool) {
	b.subsMu.RLock()
	subs := slices.Clone(b.onSpeaking)
	b.subsMu.RUnlock()
	for _, fn := range subs {
		fn(v)
	}
}

// Stats returns bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		FramesCaptured:  b.framesCaptured.Load(),
		FramesSent:      b.framesSent.Load(),
		FramesDropped:   b.framesDropped.Load(),
		SendErrors:      b.sendErrors.Load(),
		ChunksScheduled: b.chunksScheduled.Load(),
		ChunksPlayed:    b.chunksPlayed.Load(),
		Speaking:        b.Speaking(),
	}
}

// Close stops both directions, abandons queued frames and chunks, releases
// the microphone and closes the sink. Safe to call more than once.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.cancel()
		if stopErr := b.src.Stop(); stopErr != nil {
			err = stopErr
		}
		b.wg.Wait()

		b.playMu.Lock()
		b.playQ = nil
		stopped := b.speaking.Swap(false)
		b.playMu.Unlock()

		b.sink.Clear()
		if closeErr := b.sink.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if stopped {
			b.notify(false)
		}
	})
	return err
}
