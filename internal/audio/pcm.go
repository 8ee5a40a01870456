package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Inbound audio is raw little-endian PCM16, mono, 16 kHz.
const (
	SampleRate     = 16000
	BytesPerSample = 2
	BytesPerSecond = SampleRate * BytesPerSample
)

// DecodePCM16 converts little-endian PCM16 bytes to normalized float32 samples.
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	n := len(data) / BytesPerSample
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / math.MaxInt16
	}
	return samples
}

// PCM16Duration reports how much audio len(data) bytes represent.
func PCM16Duration(data []byte) time.Duration {
	return time.Duration(len(data)/BytesPerSample) * time.Second / SampleRate
}
