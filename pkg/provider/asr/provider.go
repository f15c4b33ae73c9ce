// Package asr defines the Provider interface for transcription backends used
// by the reading assessment engine.
//
// A provider wraps a recognition service behind one capability: given the
// sentence the student is expected to read and a stream of PCM audio, produce
// an aggregate transcription result. Two kinds of backend exist — a streaming
// cloud assessment service that emits incremental segments with native
// pronunciation sub-scores, and a single-shot fallback recogniser that returns
// only text and a confidence scalar. Both are surfaced through the same
// AttemptHandle so call sites never branch on the backend kind.
//
// Implementations must be safe for concurrent use. A single AttemptHandle
// belongs to one recording attempt; all of its methods must be goroutine-safe
// because audio forwarding, timers, and user-driven finalisation race by
// design.
package asr

import (
	"context"
	"errors"
	"time"

	"github.com/remedialab/lectura/pkg/types"
)

// ErrNoSpeech is returned by Finalize when the attempt produced zero
// recognised words. It is recoverable: the caller prompts the student to
// retry and records no score.
var ErrNoSpeech = errors.New("asr: no speech recognised")

// ErrClosed is returned by SendAudio after the attempt has been closed.
var ErrClosed = errors.New("asr: attempt is closed")

// AttemptConfig describes one recording attempt.
type AttemptConfig struct {
	// ReferenceText is the sentence the student is expected to read. The
	// primary provider scopes its pronunciation assessment to this text.
	ReferenceText string

	// SampleRate is the PCM sample rate in Hz delivered via SendAudio.
	SampleRate int

	// Channels is the channel count of the delivered PCM. 1 = mono.
	Channels int

	// Language is the BCP-47 recognition language (e.g., "en-US").
	Language string

	// MaxDuration bounds the attempt. Zero means the provider default.
	MaxDuration time.Duration
}

// AttemptHandle represents an open recognition attempt. Callers must call
// Close when the attempt is no longer needed; failing to do so may leak
// goroutines and network connections inside the provider.
type AttemptHandle interface {
	// SendAudio delivers a chunk of raw PCM audio for recognition. The chunk
	// must match the SampleRate and Channels agreed in AttemptConfig.
	// Calling SendAudio after Close returns ErrClosed.
	SendAudio(chunk []byte) error

	// Segments returns a read-only channel emitting recognition segments in
	// arrival order. Streaming providers emit zero or more segments; the
	// single-shot fallback emits at most one. The channel is closed when the
	// attempt finishes.
	Segments() <-chan types.SpeechSegment

	// Finalize flushes pending audio, waits for the provider to commit its
	// last segment, and returns the merged result for the whole attempt.
	// Returns ErrNoSpeech when no words were ever recognised — the caller
	// must fall back or prompt a retry, and no score may be recorded.
	Finalize(ctx context.Context) (types.AggregateResult, error)

	// Close cancels the attempt and releases all resources. Results arriving
	// after Close are dropped. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any transcription backend.
type Provider interface {
	// StartAttempt opens a recognition attempt scoped to cfg.ReferenceText.
	// The returned handle accepts audio immediately. The caller owns the
	// handle and must call Close when done.
	StartAttempt(ctx context.Context, cfg AttemptConfig) (AttemptHandle, error)
}
