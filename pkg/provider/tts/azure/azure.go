// Package azure provides an Azure Cognitive Services-backed TTS provider
// using the speech synthesis REST API. It implements the tts.Provider
// interface.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/remedialab/lectura/pkg/provider/tts"
)

const (
	synthesisEndpointFmt = "https://%s.tts.speech.microsoft.com/cognitiveservices/v1"
	voicesEndpointFmt    = "https://%s.tts.speech.microsoft.com/cognitiveservices/voices/list"

	defaultVoice    = "en-US-JennyNeural"
	defaultLanguage = "en-US"
	defaultTimeout  = 15 * time.Second

	// outputFormat is a RIFF container so the clip is directly playable.
	outputFormat = "riff-16khz-16bit-mono-pcm"
)

// Option is a functional option for configuring the Azure Provider.
type Option func(*Provider)

// WithDefaultVoice sets the voice used when the caller passes a Voice with an
// empty ID. Defaults to en-US-JennyNeural.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) {
		p.defaultVoice = voiceID
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 15 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements tts.Provider backed by the Azure speech synthesis API.
type Provider struct {
	region       string
	apiKey       string
	defaultVoice string
	httpClient   *http.Client
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// New creates a new Azure Provider. region and apiKey must be non-empty.
func New(region, apiKey string, opts ...Option) (*Provider, error) {
	if region == "" {
		return nil, errors.New("azure tts: region must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("azure tts: apiKey must not be empty")
	}
	p := &Provider{
		region:       region,
		apiKey:       apiKey,
		defaultVoice: defaultVoice,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize renders text via one SSML request and returns the WAV clip.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	if text == "" {
		return nil, errors.New("azure tts: text must not be empty")
	}

	body := buildSSML(text, voice, p.defaultVoice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf(synthesisEndpointFmt, p.region), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("azure tts: build request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", outputFormat)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure tts: synthesize HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("azure tts: synthesize: unexpected status %d", resp.StatusCode)
	}

	clip, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azure tts: read audio: %w", err)
	}
	return clip, nil
}

// azureVoice is a single voice entry from the voices/list API.
type azureVoice struct {
	ShortName string `json:"ShortName"`
	LocalName string `json:"LocalName"`
	Locale    string `json:"Locale"`
}

// ListVoices returns all voices available in the configured region.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf(voicesEndpointFmt, p.region), nil)
	if err != nil {
		return nil, fmt.Errorf("azure tts: list voices: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure tts: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("azure tts: list voices: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azure tts: list voices read: %w", err)
	}
	return parseVoicesResponse(raw)
}

// buildSSML constructs the SSML synthesis request body. A zero-value Rate
// means the voice's default speed.
func buildSSML(text string, voice tts.Voice, fallbackVoice string) []byte {
	id := voice.ID
	if id == "" {
		id = fallbackVoice
	}
	lang := voice.Language
	if lang == "" {
		lang = defaultLanguage
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, `<speak version="1.0" xml:lang="%s">`, lang)
	fmt.Fprintf(&b, `<voice name="%s">`, id)
	if voice.Rate > 0 && voice.Rate != 1.0 {
		fmt.Fprintf(&b, `<prosody rate="%.0f%%">%s</prosody>`, voice.Rate*100, escapeSSML(text))
	} else {
		b.WriteString(escapeSSML(text))
	}
	b.WriteString(`</voice></speak>`)
	return b.Bytes()
}

// escapeSSML escapes the XML special characters that can appear in card text.
func escapeSSML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// parseVoicesResponse parses the raw JSON voices/list payload into Voice
// values. Split out so tests can verify the mapping without a live endpoint.
func parseVoicesResponse(data []byte) ([]tts.Voice, error) {
	var entries []azureVoice
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("azure tts: list voices decode: %w", err)
	}
	voices := make([]tts.Voice, 0, len(entries))
	for _, v := range entries {
		voices = append(voices, tts.Voice{
			ID:       v.ShortName,
			Name:     v.LocalName,
			Language: v.Locale,
			Rate:     1.0,
		})
	}
	return voices, nil
}
