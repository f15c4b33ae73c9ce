// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Azure Cognitive
// Services or a local Piper instance) and presents a uniform single-shot
// interface. Reading practice plays back short units — a word the student
// struggled with, or one card sentence — so Synthesize returns the complete
// clip rather than a stream.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice describes a synthesis voice configuration.
type Voice struct {
	// ID is the provider-specific voice identifier
	// (e.g., "en-US-JennyNeural" or a Piper model name).
	ID string

	// Name is the human-readable voice name.
	Name string

	// Language is the BCP-47 language tag of the voice.
	Language string

	// Rate adjusts speaking rate (0.5–2.0, 1.0 = default). Slower rates help
	// early readers follow along.
	Rate float64
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns the complete
	// audio clip. The returned bytes are a playable container (WAV unless the
	// implementation documents otherwise).
	//
	// Implementations should return an error if the requested voice is not
	// available or if ctx is cancelled before synthesis completes.
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	ListVoices(ctx context.Context) ([]Voice, error)
}
