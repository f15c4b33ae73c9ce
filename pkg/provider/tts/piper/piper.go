// Package piper provides a local Piper-backed TTS provider that connects to a
// piper-http server via its REST API. It implements the tts.Provider
// interface.
//
// Piper runs fully offline, which matters for classrooms with unreliable
// connectivity: word and sentence playback keeps working when the cloud
// provider does not. The server performs batch synthesis — one HTTP call per
// utterance — returning a complete WAV body.
//
// Typical usage:
//
//	p, err := piper.New("http://localhost:5000",
//	    piper.WithTimeout(10*time.Second),
//	)
//	clip, err := p.Synthesize(ctx, "the quick brown fox", tts.Voice{})
package piper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/remedialab/lectura/pkg/provider/tts"
)

const (
	defaultTimeout = 30 * time.Second
	ttsEndpoint    = "/"
	voicesEndpoint = "/voices"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Piper Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout for calls to the Piper
// server. Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithDefaultVoice sets the Piper model used when the caller passes a Voice
// with an empty ID. When unset, the server's configured model is used.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) {
		p.defaultVoice = voiceID
	}
}

// Provider implements tts.Provider backed by a local piper-http server.
type Provider struct {
	baseURL      string
	defaultVoice string
	httpClient   *http.Client
}

// New creates a new Piper Provider talking to the server at baseURL
// (e.g., "http://localhost:5000").
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("piper: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize performs one GET /?text=... call and returns the WAV body.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	if text == "" {
		return nil, errors.New("piper: text must not be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+ttsEndpoint+"?"+buildQuery(text, voice, p.defaultVoice), nil)
	if err != nil {
		return nil, fmt.Errorf("piper: build request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("piper: synthesize HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("piper: synthesize: unexpected status %d", resp.StatusCode)
	}

	clip, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("piper: read audio: %w", err)
	}
	return clip, nil
}

// piperVoice is a single entry from GET /voices.
type piperVoice struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
}

// ListVoices returns the models installed on the Piper server.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("piper: list voices: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("piper: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("piper: list voices: unexpected status %d", resp.StatusCode)
	}

	var entries []piperVoice
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("piper: list voices decode: %w", err)
	}

	voices := make([]tts.Voice, 0, len(entries))
	for _, v := range entries {
		voices = append(voices, tts.Voice{
			ID:       v.Key,
			Name:     v.Name,
			Language: v.Language.Code,
			Rate:     1.0,
		})
	}
	return voices, nil
}

// buildQuery constructs the synthesis query string. Piper expresses speed as
// length_scale, the inverse of rate: a 0.8 rate reads as length_scale 1.25.
func buildQuery(text string, voice tts.Voice, fallbackVoice string) string {
	q := url.Values{}
	q.Set("text", text)
	id := voice.ID
	if id == "" {
		id = fallbackVoice
	}
	if id != "" {
		q.Set("voice", id)
	}
	if voice.Rate > 0 && voice.Rate != 1.0 {
		q.Set("length_scale", strconv.FormatFloat(1/voice.Rate, 'f', 2, 64))
	}
	return q.Encode()
}
