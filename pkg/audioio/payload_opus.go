//go:build opus

package audioio

import (
	"gopkg.in/hraban/opus.v2"
)

// opusEncoder wraps libopus at 48 kHz mono with 20ms frames.
type opusEncoder struct {
	enc *opus.Encoder
	buf []byte
}

func newPayloadEncoder() (payloadEncoder, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	return &opusEncoder{enc: enc, buf: make([]byte, 1500)}, nil
}

func (e *opusEncoder) ClockRate() int    { return 48000 }
func (e *opusEncoder) FrameSamples() int { return 960 }
func (e *opusEncoder) Name() string      { return "opus" }

func (e *opusEncoder) Encode(frame []int16) ([]byte, error) {
	n, err := e.enc.Encode(frame, e.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}
