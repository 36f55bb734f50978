package audioio

import (
	"errors"
	"testing"
)

func TestResample(t *testing.T) {
	tests := []struct {
		name     string
		in       int
		from, to int
		want     int
	}{
		{"same rate", 480, 24000, 24000, 480},
		{"downsample 2x", 960, 48000, 24000, 480},
		{"upsample 16k to 24k", 320, 16000, 24000, 480},
		{"empty", 0, 24000, 48000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := make([]int16, tt.in)
			for i := range samples {
				samples[i] = int16(i)
			}
			if got := len(Resample(samples, tt.from, tt.to)); got != tt.want {
				t.Errorf("Expected %d samples, got %d", tt.want, got)
			}
		})
	}
}

func TestSamplesBytesLittleEndian(t *testing.T) {
	data := SamplesToBytes([]int16{0x0102, -1})
	want := []byte{0x02, 0x01, 0xFF, 0xFF}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("Byte %d: expected 0x%02x, got 0x%02x", i, want[i], data[i])
		}
	}

	samples := BytesToSamples(data)
	if samples[0] != 0x0102 || samples[1] != -1 {
		t.Errorf("Unexpected samples %v", samples)
	}
}

func TestEncodePCM16(t *testing.T) {
	stereo := AudioChunk{Samples: []int16{100, 200, 300, 400}, SampleRate: 16000, Channels: 2}
	out := EncodePCM16(stereo, 16000)

	got := BytesToSamples(out)
	if len(got) != 2 || got[0] != 150 || got[1] != 350 {
		t.Errorf("Expected mono downmix [150 350], got %v", got)
	}

	mic := AudioChunk{Samples: make([]int16, 480), SampleRate: 48000, Channels: 1}
	if n := len(EncodePCM16(mic, 16000)); n != 320 {
		t.Errorf("Expected 160 samples (320 bytes), got %d bytes", n)
	}
}

func TestDecodePCM16(t *testing.T) {
	chunk, err := DecodePCM16(make([]byte, 960), 24000)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(chunk.Samples) != 480 || chunk.SampleRate != 24000 || chunk.Channels != 1 {
		t.Errorf("Unexpected chunk %+v", chunk)
	}

	if _, err := DecodePCM16([]byte{1, 2, 3}, 24000); !errors.Is(err, ErrOddLength) {
		t.Errorf("Expected ErrOddLength, got %v", err)
	}
}

func BenchmarkResample_16kTo24k(b *testing.B) {
	samples := make([]int16, 320)
	for i := range samples {
		samples[i] = int16(i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Resample(samples, 16000, 24000)
	}
}
