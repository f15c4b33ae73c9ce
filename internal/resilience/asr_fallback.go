package resilience

import (
	"context"
	"errors"

	"github.com/remedialab/lectura/pkg/provider/asr"
)

// ASRFallback implements [asr.Provider] with automatic failover across
// multiple recognition backends. Each backend has its own circuit breaker.
//
// Failover covers attempt startup only: once StartAttempt succeeds against a
// backend, that backend owns the attempt through Finalize. A finalization
// that detects no speech ([asr.ErrNoSpeech]) is a property of the recording,
// not the backend, and never counts against a breaker.
type ASRFallback struct {
	group *FallbackGroup[asr.Provider]
}

// Compile-time interface assertion.
var _ asr.Provider = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred
// backend.
func NewASRFallback(primary asr.Provider, primaryName string, cfg FallbackConfig) *ASRFallback {
	if cfg.Benign == nil {
		cfg.Benign = func(err error) bool { return errors.Is(err, asr.ErrNoSpeech) }
	}
	if cfg.Kind == "" {
		cfg.Kind = "asr"
	}
	return &ASRFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognition provider as a fallback.
func (f *ASRFallback) AddFallback(name string, provider asr.Provider) {
	f.group.AddFallback(name, provider)
}

// StartAttempt opens a recognition attempt against the first healthy
// provider. If the primary fails to start, subsequent fallbacks are tried.
func (f *ASRFallback) StartAttempt(ctx context.Context, cfg asr.AttemptConfig) (asr.AttemptHandle, error) {
	return ExecuteWithResult(ctx, f.group, func(p asr.Provider) (asr.AttemptHandle, error) {
		return p.StartAttempt(ctx, cfg)
	})
}
