package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr": {"azure", "whisper-api"},
	"tts": {"azure", "piper"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("asr", cfg.Providers.ASR.Primary.Name)
	validateProviderName("asr", cfg.Providers.ASR.Fallback.Name)
	validateProviderName("tts", cfg.Providers.TTS.Primary.Name)
	validateProviderName("tts", cfg.Providers.TTS.Fallback.Name)

	// ASR chain
	if cfg.Providers.ASR.Primary.Name == "" {
		errs = append(errs, errors.New("providers.asr.primary.name is required"))
	}
	if cfg.Providers.ASR.Fallback.Name == "" {
		slog.Warn("no fallback ASR provider configured; primary outages will fail attempts outright")
	}
	errs = append(errs, validateEntry("providers.asr.primary", cfg.Providers.ASR.Primary)...)
	errs = append(errs, validateEntry("providers.asr.fallback", cfg.Providers.ASR.Fallback)...)

	// TTS chain is optional as a whole; entries still need coherent values.
	errs = append(errs, validateEntry("providers.tts.primary", cfg.Providers.TTS.Primary)...)
	errs = append(errs, validateEntry("providers.tts.fallback", cfg.Providers.TTS.Fallback)...)

	// Listening
	l := cfg.Listening
	if l.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("listening.window_size %d must not be negative", l.WindowSize))
	}
	if l.ThresholdDB > 0 {
		errs = append(errs, fmt.Errorf("listening.threshold_db %.1f must be at or below 0 dBFS", l.ThresholdDB))
	}
	if l.Debounce < 0 {
		errs = append(errs, fmt.Errorf("listening.debounce %s must not be negative", l.Debounce))
	}
	if l.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("listening.idle_timeout %s must not be negative", l.IdleTimeout))
	}
	if l.MaxAttempt < 0 {
		errs = append(errs, fmt.Errorf("listening.max_attempt %s must not be negative", l.MaxAttempt))
	}
	if l.IdleTimeout > 0 && l.MaxAttempt > 0 && l.IdleTimeout >= l.MaxAttempt {
		errs = append(errs, fmt.Errorf("listening.idle_timeout %s must be shorter than listening.max_attempt %s", l.IdleTimeout, l.MaxAttempt))
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; sessions will not be persisted")
	}

	return errors.Join(errs...)
}

// validateEntry checks the per-provider requirements for a single entry.
// An empty Name means the slot is unused and is never an error here.
func validateEntry(prefix string, e ProviderEntry) []error {
	var errs []error
	switch e.Name {
	case "":
	case "azure":
		if e.Region == "" {
			errs = append(errs, fmt.Errorf("%s.region is required for the azure provider", prefix))
		}
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for the azure provider", prefix))
		}
	case "whisper-api":
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for the whisper-api provider", prefix))
		}
	case "piper":
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for the piper provider", prefix))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
