package notify

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"
)

// Chime parameters. Two short ascending sine tones, mono 16 kHz s16le,
// matching the dashboard's notification sound.
const (
	chimeSampleRate = 16000
	chimeToneAHz    = 880.0
	chimeToneBHz    = 1174.66
	chimeToneAMs    = 150
	chimeToneBMs    = 200
	chimeGapMs      = 30
)

var (
	chimeOnce sync.Once
	chimeWAV  []byte
)

// ChimeWAV returns the two-tone alert chime as a WAV file. The asset is
// synthesized once and cached for the process lifetime.
func ChimeWAV() []byte {
	chimeOnce.Do(func() {
		chimeWAV = buildChime()
	})
	return chimeWAV
}

func buildChime() []byte {
	samples := append(sineTone(chimeToneAHz, chimeToneAMs), silence(chimeGapMs)...)
	samples = append(samples, sineTone(chimeToneBHz, chimeToneBMs)...)
	return encodeWAV(samples)
}

// sineTone renders a single sine tone with a short linear fade at both ends
// so the transition between tones does not click.
func sineTone(freq float64, durMs int) []int16 {
	n := chimeSampleRate * durMs / 1000
	fade := chimeSampleRate * 5 / 1000 // 5ms ramp
	out := make([]int16, n)
	const amplitude = 0.6 * 32767.0
	for i := 0; i < n; i++ {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/chimeSampleRate)
		if i < fade {
			v *= float64(i) / float64(fade)
		}
		if n-i < fade {
			v *= float64(n-i) / float64(fade)
		}
		out[i] = int16(v)
	}
	return out
}

func silence(durMs int) []int16 {
	return make([]int16, chimeSampleRate*durMs/1000)
}

// encodeWAV wraps little-endian PCM samples in a minimal RIFF/WAVE header
// (PCM, mono, 16-bit).
func encodeWAV(samples []int16) []byte {
	dataLen := len(samples) * 2
	var buf bytes.Buffer

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(chimeSampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(chimeSampleRate*2)) // byte rate
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))                 // block align
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))                // bits per sample

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	for _, s := range samples {
		_ = binary.Write(&buf, binary.LittleEndian, s)
	}

	return buf.Bytes()
}
