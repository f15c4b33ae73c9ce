// Package audio defines the frame types and capture-stream abstraction used by
// the assessment pipeline.
//
// Frames are the atomic unit of audio transport — captured from the microphone
// stream, sampled by the voice activity detector, and forwarded to the
// transcription providers. The package owns no device I/O itself; concrete
// capture sources (the gateway's WebSocket ingest, test fixtures) implement
// [InputStream].
package audio

import "time"

// Frame represents a single frame of 16-bit little-endian PCM audio.
type Frame struct {
	// Data is raw PCM. Sample rate and channel count are fixed per stream.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for speech recognition).
	SampleRate int

	// Channels: 1 for mono microphone capture.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// InputStream is a live microphone capture stream. The stream is exclusively
// owned by one recording attempt at a time: a new attempt must Close the
// previous stream before acquiring its own.
type InputStream interface {
	// Frames returns the channel of captured frames. The channel is closed
	// when the device stops or the stream is closed.
	Frames() <-chan Frame

	// Close releases the underlying audio resources. Closing an already
	// closed stream is a no-op and returns nil.
	Close() error
}
