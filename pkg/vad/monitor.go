package vad

import (
	"sync"
	"time"

	"github.com/remedialab/lectura/pkg/audio"
	"github.com/remedialab/lectura/pkg/types"
)

// Monitor runs a [Detector] over a live capture stream while forwarding the
// raw audio to a sink (normally the active transcription attempt).
//
// The monitor owns the stream: Stop closes it, and Stop is called on every
// exit path including forwarding errors, so the microphone is always released
// deterministically. Stop is idempotent and safe to call from any goroutine.
type Monitor struct {
	det     *Detector
	stream  audio.InputStream
	forward func(chunk []byte) error

	mu      sync.Mutex
	pending []int16
	elapsed time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a Monitor sampling stream through det. forward receives
// every raw frame in capture order; it may be nil when the audio is consumed
// elsewhere. The monitor takes ownership of stream.
func NewMonitor(det *Detector, stream audio.InputStream, forward func([]byte) error) *Monitor {
	return &Monitor{
		det:     det,
		stream:  stream,
		forward: forward,
		done:    make(chan struct{}),
	}
}

// Start launches the sampling loop. It must be called exactly once.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	// The stream must be released no matter how the loop exits.
	defer m.stream.Close()

	for {
		select {
		case <-m.done:
			// Flush frames already buffered by the device before exiting so
			// the tail of the utterance reaches the recogniser.
			for {
				select {
				case frame, ok := <-m.stream.Frames():
					if !ok {
						return
					}
					if err := m.ingest(frame); err != nil {
						return
					}
				default:
					return
				}
			}
		case frame, ok := <-m.stream.Frames():
			if !ok {
				return
			}
			if err := m.ingest(frame); err != nil {
				return
			}
		}
	}
}

// ingest decodes one frame, advances the elapsed clock, and processes every
// complete analysis window accumulated so far.
func (m *Monitor) ingest(frame audio.Frame) error {
	m.mu.Lock()
	m.pending = append(m.pending, audio.Samples(frame.Data)...)
	m.elapsed += audio.Duration(len(frame.Data)/2, frame.SampleRate, frame.Channels)

	w := m.det.WindowSize()
	for len(m.pending) >= w {
		window := m.pending[:w]
		m.pending = m.pending[w:]
		// Timestamp the window at the end of the decoded audio; windows within
		// one frame share the frame's boundary, which is close enough for the
		// debounce granularity in play.
		m.det.Process(window, m.elapsed)
	}
	m.mu.Unlock()

	if m.forward != nil {
		if err := m.forward(frame.Data); err != nil {
			return err
		}
	}
	return nil
}

// Timing returns the detector's current summary without stopping capture.
func (m *Monitor) Timing() types.VADTiming {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.det.Timing()
}

// Stop ends capture, closes the stream, and returns the final timing summary.
// Calling Stop more than once is safe; later calls return the same summary.
func (m *Monitor) Stop() types.VADTiming {
	m.stopOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.det.Timing().SpeechEnd == 0 {
		return m.det.EndCapture(m.elapsed)
	}
	return m.det.Timing()
}
