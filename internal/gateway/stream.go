package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/remedialab/lectura/pkg/audio"
)

// streamBuffer bounds how many frames can queue between the WebSocket reader
// and the detection loop before backpressure drops audio.
const streamBuffer = 64

// wsStream adapts WebSocket binary messages to [audio.InputStream]. The
// gateway's read loop is the sole producer; the engine's monitor is the sole
// consumer and closes the stream when the attempt ends.
type wsStream struct {
	frames     chan audio.Frame
	sampleRate int
	channels   int

	once sync.Once
	done chan struct{}
}

func newWSStream(sampleRate, channels int) *wsStream {
	return &wsStream{
		frames:     make(chan audio.Frame, streamBuffer),
		sampleRate: sampleRate,
		channels:   channels,
		done:       make(chan struct{}),
	}
}

// Frames implements [audio.InputStream].
func (s *wsStream) Frames() <-chan audio.Frame { return s.frames }

// Close implements [audio.InputStream]. It unblocks any pending push; the
// frame channel itself stays open because the consumer exits via its own
// done signal.
func (s *wsStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// push queues one PCM frame stamped at ts. It returns false once the stream
// is closed. A full buffer drops the frame rather than stalling the socket;
// the recogniser tolerates small gaps far better than the client tolerates a
// frozen connection.
func (s *wsStream) push(data []byte, ts time.Duration) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	frame := audio.Frame{Data: data, SampleRate: s.sampleRate, Channels: s.channels, Timestamp: ts}
	select {
	case s.frames <- frame:
	case <-s.done:
		return false
	default:
	}
	return true
}

// Microphone hands staged WebSocket streams to the engine. The attempt
// handler stages a stream immediately before calling StartAttempt, so Open
// always finds the stream belonging to the connection that triggered it.
type Microphone struct {
	mu   sync.Mutex
	next audio.InputStream
}

// NewMicrophone creates the broker shared between the gateway and the engine.
func NewMicrophone() *Microphone {
	return &Microphone{}
}

// stage sets the stream the next Open call returns. Staging over an unclaimed
// stream closes the old one so a failed attempt never strands a socket.
func (m *Microphone) stage(s audio.InputStream) {
	m.mu.Lock()
	old := m.next
	m.next = s
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// Open implements [assess.Microphone].
func (m *Microphone) Open(context.Context) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next == nil {
		return nil, errors.New("gateway: no audio connection is staged")
	}
	s := m.next
	m.next = nil
	return s, nil
}
