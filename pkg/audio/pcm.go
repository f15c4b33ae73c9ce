package audio

import (
	"encoding/binary"
	"time"
)

// Samples decodes 16-bit little-endian PCM bytes into signed samples.
// A trailing odd byte is ignored.
func Samples(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// Duration returns the play time of sampleCount samples at the given rate and
// channel count. Zero or negative rates yield zero.
func Duration(sampleCount, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := sampleCount / channels
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
