package audioio

import (
	"context"
	"io"
)

// Sink plays audio.
type Sink interface {
	Start(ctx context.Context) error

	// Stop halts playback. Safe to call multiple times.
	Stop() error

	// Write plays a chunk. It may block while the output is full.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush waits for buffered audio to be played.
	Flush(ctx context.Context) error

	// Clear discards buffered audio immediately.
	Clear() error

	Config() Config
	Name() string

	// Close releases all resources. The sink cannot be restarted.
	io.Closer
}

// SinkStats contains playback counters.
type SinkStats struct {
	ChunksWritten   int64  `json:"chunks_written"`
	SamplesWritten  int64  `json:"samples_written"`
	Underruns       int64  `json:"underruns"`
	Running         bool   `json:"running"`
	Backend         string `json:"backend"`
	BufferedSamples int64  `json:"buffered_samples"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
