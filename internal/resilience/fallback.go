package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/remedialab/lectura/internal/observe"
)

// ErrAllFailed is returned when every provider in a [FallbackGroup] either
// failed or was skipped because its circuit breaker is open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup] and the circuit breaker minted
// for each of its providers.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// Benign reports whether an error is an expected domain outcome rather
	// than a provider failure. A benign error is returned to the caller
	// immediately: it neither trips the entry's circuit breaker nor triggers
	// failover to the next entry. Nil means every error triggers failover.
	Benign func(error) bool

	// Kind labels the provider type ("asr", "tts") on recorded request and
	// error counts.
	Kind string

	// Metrics receives a request count per provider invocation and an error
	// count per non-benign failure. Nil disables recording.
	Metrics *observe.Metrics
}

// link is one provider in the failover chain together with its breaker.
type link[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary provider and an ordered chain of fallbacks of
// the same type. Calls go to the first provider whose breaker admits them;
// non-benign failures move down the chain.
//
// FallbackGroup is safe for concurrent use once assembled. AddFallback must
// not race with Execute.
type FallbackGroup[T any] struct {
	chain []link[T]
	cfg   FallbackConfig
}

// NewFallbackGroup creates a group with primary as the head of the chain.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a provider to the end of the failover chain.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	cbCfg.Benign = fg.cfg.Benign
	fg.chain = append(fg.chain, link[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// record counts one provider invocation and, for non-benign failures, one
// provider error.
func (fg *FallbackGroup[T]) record(ctx context.Context, provider string, failed bool) {
	if fg.cfg.Metrics == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
		fg.cfg.Metrics.RecordProviderError(ctx, provider, fg.cfg.Kind)
	}
	fg.cfg.Metrics.RecordProviderRequest(ctx, provider, fg.cfg.Kind, status)
}

// Execute runs fn against the chain until one provider succeeds. It returns
// [ErrAllFailed] wrapping the last failure when the chain is exhausted, or
// the benign error itself when fn reports an expected domain outcome.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for callbacks that produce a
// value. It is a package-level function because Go methods cannot introduce
// their own type parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.chain {
		entry := &fg.chain[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		switch {
		case err == nil:
			fg.record(ctx, entry.name, false)
			return result, nil
		case fg.cfg.Benign != nil && fg.cfg.Benign(err):
			// The provider answered; the outcome is a property of the input.
			fg.record(ctx, entry.name, false)
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			// No request was issued, so nothing is counted.
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		default:
			fg.record(ctx, entry.name, true)
			slog.Warn("provider failed, trying next", "provider", entry.name, "error", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
