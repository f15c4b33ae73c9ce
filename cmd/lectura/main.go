// Command lectura is the main entry point for the Lectura reading assessment
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/remedialab/lectura/internal/app"
	"github.com/remedialab/lectura/internal/auth"
	"github.com/remedialab/lectura/internal/config"
	"github.com/remedialab/lectura/internal/observe"
	"github.com/remedialab/lectura/pkg/provider/asr"
	asrazure "github.com/remedialab/lectura/pkg/provider/asr/azure"
	"github.com/remedialab/lectura/pkg/provider/asr/whisperapi"
	"github.com/remedialab/lectura/pkg/provider/tts"
	ttsazure "github.com/remedialab/lectura/pkg/provider/tts/azure"
	"github.com/remedialab/lectura/pkg/provider/tts/piper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lectura: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lectura: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("lectura starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "lectura",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			logLevel.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.ListeningChanged || diff.VoiceChanged {
			slog.Warn("listening or voice settings changed on disk — restart to apply")
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("azure", func(entry config.ProviderEntry) (asr.Provider, error) {
		tokens, err := auth.NewTokenSource(entry.Region, entry.APIKey)
		if err != nil {
			return nil, err
		}
		var opts []asrazure.Option
		if entry.Language != "" {
			opts = append(opts, asrazure.WithLanguage(entry.Language))
		}
		if cfg.Listening.IdleTimeout > 0 {
			opts = append(opts, asrazure.WithIdleTimeout(cfg.Listening.IdleTimeout))
		}
		if cfg.Listening.MaxAttempt > 0 {
			opts = append(opts, asrazure.WithMaxDuration(cfg.Listening.MaxAttempt))
		}
		return asrazure.New(entry.Region, tokens, opts...)
	})

	reg.RegisterASR("whisper-api", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []whisperapi.Option
		if entry.Model != "" {
			opts = append(opts, whisperapi.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisperapi.WithLanguage(entry.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, whisperapi.WithBaseURL(entry.BaseURL))
		}
		return whisperapi.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("azure", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsazure.Option
		if entry.Voice != "" {
			opts = append(opts, ttsazure.WithDefaultVoice(entry.Voice))
		}
		return ttsazure.New(entry.Region, entry.APIKey, opts...)
	})

	reg.RegisterTTS("piper", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []piper.Option
		if entry.Voice != "" {
			opts = append(opts, piper.WithDefaultVoice(entry.Voice))
		}
		return piper.New(entry.BaseURL, opts...)
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	create := func(kind string, entry config.ProviderEntry, set func(asr.Provider), setTTS func(tts.Provider)) error {
		if entry.Name == "" {
			return nil
		}
		var err error
		if set != nil {
			var p asr.Provider
			p, err = reg.CreateASR(entry)
			if err == nil {
				set(p)
			}
		} else {
			var p tts.Provider
			p, err = reg.CreateTTS(entry)
			if err == nil {
				setTTS(p)
			}
		}
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("provider not registered — skipping", "kind", kind, "name", entry.Name)
			return nil
		}
		if err != nil {
			return fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
		}
		slog.Info("provider created", "kind", kind, "name", entry.Name)
		return nil
	}

	if err := create("asr", cfg.Providers.ASR.Primary, func(p asr.Provider) { ps.ASRPrimary = p }, nil); err != nil {
		return nil, err
	}
	if err := create("asr-fallback", cfg.Providers.ASR.Fallback, func(p asr.Provider) { ps.ASRFallback = p }, nil); err != nil {
		return nil, err
	}
	if err := create("tts", cfg.Providers.TTS.Primary, nil, func(p tts.Provider) { ps.TTSPrimary = p }); err != nil {
		return nil, err
	}
	if err := create("tts-fallback", cfg.Providers.TTS.Fallback, nil, func(p tts.Provider) { ps.TTSFallback = p }); err != nil {
		return nil, err
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Lectura — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("ASR", cfg.Providers.ASR.Primary.Name, cfg.Providers.ASR.Primary.Model)
	printProvider("ASR fallback", cfg.Providers.ASR.Fallback.Name, cfg.Providers.ASR.Fallback.Model)
	printProvider("TTS", cfg.Providers.TTS.Primary.Name, cfg.Providers.TTS.Primary.Voice)
	printProvider("TTS fallback", cfg.Providers.TTS.Fallback.Name, cfg.Providers.TTS.Fallback.Voice)
	if cfg.Storage.PostgresDSN != "" {
		fmt.Printf("║  Storage         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Storage         : %-19s ║\n", "(not configured)")
	}
	if cfg.Content.Dir != "" {
		fmt.Printf("║  Content dir     : %-19s ║\n", truncate(cfg.Content.Dir, 19))
	} else {
		fmt.Printf("║  Content dir     : %-19s ║\n", "(seed deck)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value, 19))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
