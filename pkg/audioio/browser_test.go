package audioio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestPushSource_Lifecycle(t *testing.T) {
	src := NewPushSource(CaptureConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Push(make([]byte, 640)); !errors.Is(err, ErrNotCapturing) {
		t.Fatalf("Expected ErrNotCapturing before Start, got %v", err)
	}

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Push(make([]byte, 640)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(chunk.Samples) != 320 || chunk.SampleRate != 16000 {
		t.Errorf("Unexpected chunk: %d samples at %d Hz", len(chunk.Samples), chunk.SampleRate)
	}

	src.Stop()
	if _, err := src.Read(ctx); err != io.EOF {
		t.Errorf("Expected io.EOF after Stop, got %v", err)
	}
	if err := src.Push(make([]byte, 640)); !errors.Is(err, ErrNotCapturing) {
		t.Errorf("Expected ErrNotCapturing after Stop, got %v", err)
	}
}

func TestPushSource_NeverBlocks(t *testing.T) {
	src := NewPushSource(CaptureConfig(), nil)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			src.Push(make([]byte, 640))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked with no reader")
	}

	stats := src.Stats()
	if stats.ChunksRead+stats.Overruns != 100 {
		t.Errorf("Expected 100 frames accounted for, got %d read + %d dropped", stats.ChunksRead, stats.Overruns)
	}
	if stats.Overruns == 0 {
		t.Error("Expected overruns with no reader")
	}
}

func TestFuncSink_Relays(t *testing.T) {
	var got []AudioChunk
	sink := NewFuncSink(DefaultConfig(), func(c AudioChunk) error {
		got = append(got, c)
		return nil
	}, nil)
	ctx := context.Background()

	chunk := AudioChunk{Samples: make([]int16, 240), SampleRate: 24000, Channels: 1}
	if err := sink.Write(ctx, chunk); err != io.ErrClosedPipe {
		t.Fatalf("Expected ErrClosedPipe before Start, got %v", err)
	}

	sink.Start(ctx)
	if err := sink.Write(ctx, chunk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 relayed chunk, got %d", len(got))
	}

	boom := errors.New("relay down")
	failing := NewFuncSink(DefaultConfig(), func(AudioChunk) error { return boom }, nil)
	failing.Start(ctx)
	if err := failing.Write(ctx, chunk); !errors.Is(err, boom) {
		t.Errorf("Expected relay error, got %v", err)
	}
}

func TestNewSinkAndSource(t *testing.T) {
	cfg := DefaultConfig()

	if _, err := NewSink(cfg, nil, nil); err == nil {
		t.Error("Expected browser sink without relay to fail")
	}

	cfg.Backend = BackendRTP
	if _, err := NewSource(cfg, nil); err == nil {
		t.Error("Expected rtp source to be rejected")
	}

	cfg.Backend = BackendMock
	if _, err := NewSource(cfg, nil); err != nil {
		t.Errorf("Mock source failed: %v", err)
	}

	if _, err := ParseBackend("alsa"); err == nil {
		t.Error("Expected unknown backend error")
	}
}
