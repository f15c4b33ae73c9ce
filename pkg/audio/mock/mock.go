// Package mock provides test doubles for the audio package interfaces.
//
// Stream plays back a fixed set of frames and records Close calls, letting
// pipeline tests verify deterministic resource release.
package mock

import (
	"sync"

	"github.com/remedialab/lectura/pkg/audio"
)

// Stream is a mock implementation of [audio.InputStream]. Frames supplied at
// construction are emitted on the Frames channel, which is then closed.
type Stream struct {
	mu sync.Mutex

	frames chan audio.Frame

	// CloseErr, if non-nil, is returned by the first Close call.
	CloseErr error

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed bool
}

// NewStream creates a Stream pre-loaded with the given frames. The frame
// channel is closed once all frames are consumed.
func NewStream(frames ...audio.Frame) *Stream {
	ch := make(chan audio.Frame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return &Stream{frames: ch}
}

// Frames returns the pre-loaded frame channel.
func (s *Stream) Frames() <-chan audio.Frame { return s.frames }

// Close records the call. Only the first call returns CloseErr.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.closed {
		return nil
	}
	s.closed = true
	return s.CloseErr
}

// Ensure Stream implements audio.InputStream at compile time.
var _ audio.InputStream = (*Stream)(nil)
