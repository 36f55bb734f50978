package audioio

import "errors"

// ErrOddLength is returned when a PCM16 payload has a dangling byte.
var ErrOddLength = errors.New("audioio: pcm16 payload has odd length")

// EncodePCM16 converts a captured chunk into the outbound wire format:
// mono little-endian PCM16 at rate.
func EncodePCM16(chunk AudioChunk, rate int) []byte {
	samples := chunk.Samples
	if chunk.Channels == 2 {
		samples = StereoToMono(samples)
	}
	return SamplesToBytes(Resample(samples, chunk.SampleRate, rate))
}

// DecodePCM16 converts an inbound little-endian PCM16 payload at rate into
// a playable mono chunk.
func DecodePCM16(data []byte, rate int) (AudioChunk, error) {
	if len(data)%2 != 0 {
		return AudioChunk{}, ErrOddLength
	}
	var c AudioChunk
	c.FromBytes(data, rate, 1)
	return c, nil
}

// Resample converts between sample rates by linear interpolation, which is
// adequate for speech.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]int16, n)

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a, b := float64(samples[idx]), float64(samples[idx+1])
		out[i] = int16(a + frac*(b-a))
	}
	return out
}

// BytesToSamples converts little-endian PCM16 bytes to samples. A trailing
// odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts samples to little-endian PCM16 bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// StereoToMono averages interleaved stereo samples.
func StereoToMono(samples []int16) []int16 {
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		mono[i] = int16((int32(samples[i*2]) + int32(samples[i*2+1])) / 2)
	}
	return mono
}
