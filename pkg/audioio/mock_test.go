package audioio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestMockSource_StartStop(t *testing.T) {
	cfg := CaptureConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil)
	defer src.Close()

	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if src.Starts() != 1 {
		t.Errorf("Expected one effective start, got %d", src.Starts())
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
	if src.Running() {
		t.Error("Expected source to be stopped")
	}
}

func TestMockSource_ReadFrameSize(t *testing.T) {
	cfg := CaptureConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil, WithSineWave(440, 0.5))
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if want := cfg.BufferSize(); len(chunk.Samples) != want {
		t.Errorf("Expected %d samples, got %d", want, len(chunk.Samples))
	}
	if chunk.SampleRate != 16000 {
		t.Errorf("Expected 16000 Hz, got %d", chunk.SampleRate)
	}

	var nonZero bool
	for _, s := range chunk.Samples {
		if s != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Error("Expected non-zero samples from sine wave generator")
	}
}

func TestMockSource_ReadAfterStop(t *testing.T) {
	src := NewMockSource(CaptureConfig(), nil)
	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.Stop()

	if _, err := src.Read(ctx); err != io.EOF {
		t.Errorf("Expected io.EOF after stop, got %v", err)
	}
}

func TestMockSource_StartError(t *testing.T) {
	denied := errors.New("permission denied")
	src := NewMockSource(CaptureConfig(), nil, WithStartError(denied))

	if err := src.Start(context.Background()); !errors.Is(err, denied) {
		t.Fatalf("Expected denial, got %v", err)
	}
	if src.Running() {
		t.Error("Denied source must not run")
	}
}

func TestMockSource_Close(t *testing.T) {
	src := NewMockSource(CaptureConfig(), nil)
	ctx := context.Background()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := src.Start(ctx); err != io.ErrClosedPipe {
		t.Errorf("Expected ErrClosedPipe after close, got: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
}

func TestMockSink_RecordsChunks(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil)
	ctx := context.Background()

	chunk := AudioChunk{Samples: make([]int16, 480), SampleRate: 24000, Channels: 1}
	if err := sink.Write(ctx, chunk); err == nil {
		t.Error("Expected error when writing to non-running sink")
	}

	if err := sink.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := sink.Write(ctx, chunk); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	if got := sink.Stats().BufferedSamples; got != 960 {
		t.Errorf("Expected 960 buffered samples, got %d", got)
	}
	if err := sink.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if got := sink.Stats().BufferedSamples; got != 0 {
		t.Errorf("Expected empty buffer after Clear, got %d", got)
	}
	if len(sink.Chunks()) != 2 || sink.Clears() != 1 {
		t.Errorf("Expected 2 recorded chunks and 1 clear, got %d and %d", len(sink.Chunks()), sink.Clears())
	}

	sink.Close()
	if !sink.Closed() {
		t.Error("Expected sink to report closed")
	}
}

func TestAudioChunk_Duration(t *testing.T) {
	tests := []struct {
		chunk AudioChunk
		want  time.Duration
	}{
		{AudioChunk{Samples: make([]int16, 480), SampleRate: 24000, Channels: 1}, 20 * time.Millisecond},
		{AudioChunk{Samples: make([]int16, 640), SampleRate: 16000, Channels: 2}, 20 * time.Millisecond},
		{AudioChunk{Samples: make([]int16, 10)}, 0},
	}
	for _, tt := range tests {
		if got := tt.chunk.Duration(); got != tt.want {
			t.Errorf("Duration() = %v, want %v", got, tt.want)
		}
	}
}
