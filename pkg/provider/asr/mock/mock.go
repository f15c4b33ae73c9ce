// Package mock provides test doubles for the asr package interfaces.
//
// Use Provider to verify that the caller starts attempts with the expected
// AttemptConfig. Use Attempt to feed controlled SpeechSegment values and
// inspect which audio chunks were delivered.
//
// Example:
//
//	att := &mock.Attempt{
//	    SegmentsCh: make(chan types.SpeechSegment, 1),
//	}
//	p := &mock.Provider{Attempt: att}
//	handle, _ := p.StartAttempt(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/remedialab/lectura/pkg/provider/asr"
	"github.com/remedialab/lectura/pkg/types"
)

// StartAttemptCall records a single invocation of Provider.StartAttempt.
type StartAttemptCall struct {
	// Ctx is the context passed to StartAttempt.
	Ctx context.Context
	// Cfg is the AttemptConfig passed to StartAttempt.
	Cfg asr.AttemptConfig
}

// Provider is a mock implementation of asr.Provider.
type Provider struct {
	mu sync.Mutex

	// Attempt is the AttemptHandle returned by StartAttempt. If nil,
	// StartAttempt returns a new default Attempt with a buffered channel.
	Attempt asr.AttemptHandle

	// StartAttemptErr, if non-nil, is returned as the error from StartAttempt.
	StartAttemptErr error

	// StartAttemptCalls records every call to StartAttempt.
	StartAttemptCalls []StartAttemptCall
}

// StartAttempt records the call and returns Attempt, StartAttemptErr.
func (p *Provider) StartAttempt(ctx context.Context, cfg asr.AttemptConfig) (asr.AttemptHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartAttemptCalls = append(p.StartAttemptCalls, StartAttemptCall{Ctx: ctx, Cfg: cfg})
	if p.StartAttemptErr != nil {
		return nil, p.StartAttemptErr
	}
	if p.Attempt != nil {
		return p.Attempt, nil
	}
	return &Attempt{
		SegmentsCh: make(chan types.SpeechSegment, 16),
	}, nil
}

// StartAttemptCallCount returns the number of StartAttempt calls. Thread-safe.
func (p *Provider) StartAttemptCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartAttemptCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartAttemptCalls = nil
}

// Ensure Provider implements asr.Provider at compile time.
var _ asr.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Attempt.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Attempt is a mock implementation of asr.AttemptHandle.
// Callers should pre-populate SegmentsCh with the SpeechSegment values they
// want the consumer to receive, then close it when done.
type Attempt struct {
	mu sync.Mutex

	// SegmentsCh is the channel returned by Segments(). Callers own this
	// channel and are responsible for sending to and closing it in tests.
	SegmentsCh chan types.SpeechSegment

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// FinalizeResult is returned by Finalize alongside FinalizeErr.
	FinalizeResult types.AggregateResult

	// FinalizeErr, if non-nil, is returned as the error from Finalize.
	FinalizeErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// FinalizeCallCount is the number of times Finalize was called.
	FinalizeCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// SendAudio records the call and returns SendAudioErr.
func (a *Attempt) SendAudio(chunk []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	a.SendAudioCalls = append(a.SendAudioCalls, SendAudioCall{Chunk: cp})
	return a.SendAudioErr
}

// Segments returns SegmentsCh. The caller must have initialised SegmentsCh
// before calling this method.
func (a *Attempt) Segments() <-chan types.SpeechSegment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.SegmentsCh
}

// Finalize records the call and returns FinalizeResult, FinalizeErr.
func (a *Attempt) Finalize(_ context.Context) (types.AggregateResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.FinalizeCallCount++
	return a.FinalizeResult, a.FinalizeErr
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (a *Attempt) SendAudioCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.SendAudioCalls)
}

// Close records the call and returns CloseErr.
func (a *Attempt) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CloseCallCount++
	return a.CloseErr
}

// ResetCalls clears all recorded calls. Thread-safe.
func (a *Attempt) ResetCalls() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SendAudioCalls = nil
	a.FinalizeCallCount = 0
	a.CloseCallCount = 0
}

// Ensure Attempt implements asr.AttemptHandle at compile time.
var _ asr.AttemptHandle = (*Attempt)(nil)
