// Package app wires all Lectura subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/remedialab/lectura/internal/assess"
	"github.com/remedialab/lectura/internal/config"
	"github.com/remedialab/lectura/internal/content"
	"github.com/remedialab/lectura/internal/gateway"
	"github.com/remedialab/lectura/internal/health"
	"github.com/remedialab/lectura/internal/observe"
	"github.com/remedialab/lectura/internal/resilience"
	"github.com/remedialab/lectura/internal/session"
	"github.com/remedialab/lectura/internal/session/postgres"
	"github.com/remedialab/lectura/pkg/provider/asr"
	"github.com/remedialab/lectura/pkg/provider/tts"
	"github.com/remedialab/lectura/pkg/vad"
)

// Providers holds one interface value per provider slot. Nil means the slot
// is not configured. Populated by main.go via the config registry.
type Providers struct {
	ASRPrimary  asr.Provider
	ASRFallback asr.Provider
	TTSPrimary  tts.Provider
	TTSFallback tts.Provider
}

// App owns all subsystem lifetimes for the Lectura assessment server.
type App struct {
	cfg       *config.Config
	providers *Providers

	store   session.Store
	metrics *observe.Metrics
	engine  *assess.Engine
	gateway *gateway.Server
	health  *health.Handler
	srv     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session store instead of connecting to PostgreSQL.
func WithStore(s session.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go, populated via the config registry.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.ASRPrimary == nil {
		return nil, errors.New("app: a primary ASR provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}
	return a, nil
}

// initStore connects the PostgreSQL session store or uses the injected one.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		return errors.New("storage.postgres_dsn is required when no store is injected")
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initEngine builds the resilience chains, the assessment engine, and the
// gateway in front of it.
func (a *App) initEngine() error {
	recognizer := a.buildRecognizer()
	speaker := a.buildSpeaker()

	var trackerOpts []session.Option
	if a.cfg.Session.LockEnabled {
		trackerOpts = append(trackerOpts, session.WithLock())
	}
	tracker := session.NewTracker(a.store, trackerOpts...)

	mic := gateway.NewMicrophone()

	engine, err := assess.New(assess.Config{
		Microphone: mic,
		Recognizer: recognizer,
		Speaker:    speaker,
		Cards:      content.NewSource(a.cfg.Content.Dir),
		Tracker:    tracker,
		Metrics:    a.metrics,
		VAD: vad.Config{
			WindowSize:  a.cfg.Listening.WindowSize,
			ThresholdDB: a.cfg.Listening.ThresholdDB,
			Debounce:    a.cfg.Listening.Debounce,
		},
		Language:   a.cfg.Providers.ASR.Primary.Language,
		MaxAttempt: a.cfg.Listening.MaxAttempt,
	})
	if err != nil {
		return err
	}
	a.engine = engine

	gw, err := gateway.New(gateway.Config{
		Engine:     engine,
		Microphone: mic,
		Store:      a.store,
		Metrics:    a.metrics,
		DefaultVoice: tts.Voice{
			ID:       a.cfg.Providers.TTS.Primary.Voice,
			Language: a.cfg.Providers.TTS.Primary.Language,
		},
	})
	if err != nil {
		return err
	}
	a.gateway = gw

	a.health = health.New(a.healthCheckers()...)
	return nil
}

// buildRecognizer wraps the configured ASR providers in a failover chain.
// With only a primary the chain still adds circuit-breaker accounting.
func (a *App) buildRecognizer() asr.Provider {
	name := a.cfg.Providers.ASR.Primary.Name
	if name == "" {
		name = "primary"
	}
	chain := resilience.NewASRFallback(a.providers.ASRPrimary, name, resilience.FallbackConfig{Metrics: a.metrics})
	if a.providers.ASRFallback != nil {
		fbName := a.cfg.Providers.ASR.Fallback.Name
		if fbName == "" {
			fbName = "fallback"
		}
		chain.AddFallback(fbName, a.providers.ASRFallback)
		slog.Info("recognition failover enabled", "primary", name, "fallback", fbName)
	}
	return chain
}

// buildSpeaker wraps the configured TTS providers, or returns nil when
// playback is not configured.
func (a *App) buildSpeaker() tts.Provider {
	if a.providers.TTSPrimary == nil {
		return nil
	}
	name := a.cfg.Providers.TTS.Primary.Name
	if name == "" {
		name = "primary"
	}
	chain := resilience.NewTTSFallback(a.providers.TTSPrimary, name, resilience.FallbackConfig{Metrics: a.metrics})
	if a.providers.TTSFallback != nil {
		fbName := a.cfg.Providers.TTS.Fallback.Name
		if fbName == "" {
			fbName = "fallback"
		}
		chain.AddFallback(fbName, a.providers.TTSFallback)
	}
	return chain
}

// healthCheckers assembles the readiness probes for the configured backends.
func (a *App) healthCheckers() []health.Checker {
	var checkers []health.Checker
	if pinger, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		checkers = append(checkers, health.Checker{Name: "database", Check: pinger.Ping})
	}
	if a.providers.TTSPrimary != nil {
		speaker := a.providers.TTSPrimary
		checkers = append(checkers, health.Checker{
			Name: "tts",
			Check: func(ctx context.Context) error {
				_, err := speaker.ListVoices(ctx)
				return err
			},
		})
	}
	return checkers
}

// Engine exposes the assessment engine, primarily for tests.
func (a *App) Engine() *assess.Engine { return a.engine }

// Run serves the HTTP API until ctx is cancelled, then drains in-flight
// requests. It returns nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/api/", a.gateway.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if t := a.cfg.Server.TLS; t != nil {
			err = a.srv.ListenAndServeTLS(t.CertFile, t.KeyFile)
		} else {
			err = a.srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.srv.Shutdown(drainCtx)
	})

	return g.Wait()
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Abort any in-flight attempt so the recogniser releases its
		// connections before the store goes away.
		if a.engine != nil {
			a.engine.CancelAttempt()
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
