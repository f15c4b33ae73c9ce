package vad_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/remedialab/lectura/pkg/audio"
	audiomock "github.com/remedialab/lectura/pkg/audio/mock"
	"github.com/remedialab/lectura/pkg/vad"
)

// pcmFrame builds a mono 16 kHz frame of n samples at the given dBFS level.
func pcmFrame(n int, db float64) audio.Frame {
	amp := int16(math.Pow(10, db/20) * 32768)
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(amp))
	}
	return audio.Frame{Data: data, SampleRate: 16000, Channels: 1}
}

func TestMonitor_ForwardsAudioAndReleasesStream(t *testing.T) {
	t.Parallel()

	stream := audiomock.NewStream(
		pcmFrame(2048, -30),
		pcmFrame(2048, -30),
	)
	var forwarded int
	m := vad.NewMonitor(vad.NewDetector(vad.Config{}), stream, func(chunk []byte) error {
		forwarded += len(chunk)
		return nil
	})
	m.Start()
	timing := m.Stop()

	if forwarded != 2*2048*2 {
		t.Errorf("forwarded %d bytes, want %d", forwarded, 2*2048*2)
	}
	if stream.CloseCallCount == 0 {
		t.Error("stream was not closed")
	}
	if timing.SpeechStart < 0 {
		t.Errorf("SpeechStart = %v, want voiced detection", timing.SpeechStart)
	}
	// 4096 samples at 16 kHz = 256 ms of audio.
	if timing.SpeechEnd != 256*time.Millisecond {
		t.Errorf("SpeechEnd = %v, want 256ms", timing.SpeechEnd)
	}
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	stream := audiomock.NewStream(pcmFrame(2048, -30))
	m := vad.NewMonitor(vad.NewDetector(vad.Config{}), stream, nil)
	m.Start()

	first := m.Stop()
	second := m.Stop()
	if first != second {
		t.Errorf("repeated Stop returned %+v then %+v", first, second)
	}
	if stream.CloseCallCount != 1 {
		t.Errorf("stream closed %d times, want 1", stream.CloseCallCount)
	}
}

func TestMonitor_ReleasesStreamOnForwardError(t *testing.T) {
	t.Parallel()

	stream := audiomock.NewStream(pcmFrame(2048, -30), pcmFrame(2048, -30))
	m := vad.NewMonitor(vad.NewDetector(vad.Config{}), stream, func([]byte) error {
		return errors.New("attempt closed")
	})
	m.Start()
	m.Stop()
	if stream.CloseCallCount == 0 {
		t.Error("stream was not closed after forwarding error")
	}
}
