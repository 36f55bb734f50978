//go:build !opus

package audioio

// l16Encoder emits uncompressed big-endian PCM16 (RFC 3551 L16) at 24 kHz.
type l16Encoder struct{}

func newPayloadEncoder() (payloadEncoder, error) {
	return l16Encoder{}, nil
}

func (l16Encoder) ClockRate() int    { return 24000 }
func (l16Encoder) FrameSamples() int { return 480 } // 20ms
func (l16Encoder) Name() string      { return "L16" }

func (l16Encoder) Encode(frame []int16) ([]byte, error) {
	out := make([]byte, len(frame)*2)
	for i, v := range frame {
		out[i*2] = byte(uint16(v) >> 8)
		out[i*2+1] = byte(v)
	}
	return out, nil
}
