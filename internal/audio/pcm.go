package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Duration is the play time of mono PCM16 at sampleRate.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Chunk splits mono PCM16 into frames of chunk play time. The last frame may
// be shorter. Frames share pcm's backing array.
func Chunk(pcm []byte, sampleRate int, chunk time.Duration) [][]byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	size := int(int64(sampleRate) * int64(chunk) / int64(time.Second) * 2)
	if size < 2 {
		size = 2
	}
	pcm = pcm[:len(pcm)-len(pcm)%2]
	out := make([][]byte, 0, len(pcm)/size+1)
	for start := 0; start < len(pcm); start += size {
		end := min(start+size, len(pcm))
		out = append(out, pcm[start:end])
	}
	return out
}

// Tone renders a sine wave, used as synthetic speech when no recording is at hand.
func Tone(sampleRate int, d time.Duration, freq float64) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := 0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return pcm
}
