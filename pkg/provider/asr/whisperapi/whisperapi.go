// Package whisperapi provides the fallback transcription backend: a
// single-shot, non-streaming recogniser over the OpenAI audio transcription
// API. It implements the asr.Provider interface.
//
// The fallback returns at most one result carrying transcript text and a
// provider confidence scalar — no native pronunciation sub-scores and no
// per-word breakdown. The scoring engine derives everything from text
// alignment on this path. Audio is buffered locally for the duration of the
// capture window and submitted as one WAV file when the attempt finalises.
package whisperapi

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/remedialab/lectura/pkg/provider/asr"
	"github.com/remedialab/lectura/pkg/textnorm"
	"github.com/remedialab/lectura/pkg/types"
)

const (
	defaultModel      = "gpt-4o-mini-transcribe"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// defaultCaptureWindow bounds how much audio a single attempt may buffer.
	defaultCaptureWindow = 45 * time.Second

	bitsPerSample = 16
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the transcription model. Defaults to gpt-4o-mini-transcribe.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithBaseURL overrides the API base URL (e.g., a local compatible server).
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithCaptureWindow overrides the audio buffering bound.
func WithCaptureWindow(d time.Duration) Option {
	return func(p *Provider) { p.captureWindow = d }
}

// Provider implements asr.Provider using the OpenAI transcription API.
type Provider struct {
	client        oai.Client
	model         string
	language      string
	baseURL       string
	captureWindow time.Duration
}

// Compile-time interface assertion.
var _ asr.Provider = (*Provider)(nil)

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("whisperapi: apiKey must not be empty")
	}
	p := &Provider{
		model:         defaultModel,
		language:      defaultLanguage,
		captureWindow: defaultCaptureWindow,
	}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// StartAttempt opens a buffering attempt. No network traffic happens until
// Finalize.
func (p *Provider) StartAttempt(_ context.Context, cfg asr.AttemptConfig) (asr.AttemptHandle, error) {
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	window := cfg.MaxDuration
	if window <= 0 || window > p.captureWindow {
		window = p.captureWindow
	}
	maxBytes := int(window.Seconds() * float64(rate*channels*bitsPerSample/8))

	return &attempt{
		provider:   p,
		language:   orDefault(cfg.Language, p.language),
		sampleRate: rate,
		channels:   channels,
		maxBytes:   maxBytes,
		segments:   make(chan types.SpeechSegment, 1),
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// attempt buffers PCM audio until Finalize submits it in one request.
type attempt struct {
	provider   *Provider
	language   string
	sampleRate int
	channels   int
	maxBytes   int

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool

	segments  chan types.SpeechSegment
	closeOnce sync.Once
}

// SendAudio appends a PCM chunk to the attempt buffer. Audio beyond the
// capture window is dropped silently — the window is a recording bound, not
// an error condition.
func (a *attempt) SendAudio(chunk []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return asr.ErrClosed
	}
	if a.buf.Len() >= a.maxBytes {
		return nil
	}
	if room := a.maxBytes - a.buf.Len(); len(chunk) > room {
		chunk = chunk[:room]
	}
	a.buf.Write(chunk)
	return nil
}

// Segments returns the channel carrying the single result, if any.
func (a *attempt) Segments() <-chan types.SpeechSegment { return a.segments }

// Finalize submits the buffered audio and returns the aggregate result.
// Returns asr.ErrNoSpeech when the transcript contains no words.
func (a *attempt) Finalize(ctx context.Context) (types.AggregateResult, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return types.AggregateResult{}, asr.ErrClosed
	}
	a.closed = true
	pcm := make([]byte, a.buf.Len())
	copy(pcm, a.buf.Bytes())
	a.mu.Unlock()
	defer a.closeOnce.Do(func() { close(a.segments) })

	if len(pcm) == 0 {
		return types.AggregateResult{}, asr.ErrNoSpeech
	}

	wav := encodeWAV(pcm, a.sampleRate, a.channels)
	resp, err := a.provider.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		Model:    oai.AudioModel(a.provider.model),
		File:     oai.File(bytes.NewReader(wav), "attempt.wav", "audio/wav"),
		Language: oai.String(a.language),
		Include:  []oai.TranscriptionInclude{oai.TranscriptionIncludeLogprobs},
	})
	if err != nil {
		return types.AggregateResult{}, fmt.Errorf("whisperapi: transcribe: %w", err)
	}

	if len(textnorm.Tokens(resp.Text)) == 0 {
		return types.AggregateResult{}, asr.ErrNoSpeech
	}

	duration := time.Duration(len(pcm)/(a.channels*bitsPerSample/8)) * time.Second /
		time.Duration(a.sampleRate)
	seg := types.SpeechSegment{
		Start:      0,
		End:        duration,
		RawText:    resp.Text,
		Confidence: confidenceFrom(resp),
	}

	// Non-blocking: the channel has capacity one and only this method sends.
	a.segments <- seg

	return asr.MergeSegments([]types.SpeechSegment{seg}), nil
}

// Close discards buffered audio. Calling Close more than once is a no-op.
func (a *attempt) Close() error {
	a.mu.Lock()
	wasClosed := a.closed
	a.closed = true
	a.buf.Reset()
	a.mu.Unlock()
	if !wasClosed {
		a.closeOnce.Do(func() { close(a.segments) })
	}
	return nil
}

// confidenceFrom converts token log-probabilities into a single confidence
// scalar in (0,1]. Zero when the model reports no logprobs.
func confidenceFrom(resp *oai.Transcription) float64 {
	if resp == nil || len(resp.Logprobs) == 0 {
		return 0
	}
	var sum float64
	for _, lp := range resp.Logprobs {
		sum += lp.Logprob
	}
	return math.Exp(sum / float64(len(resp.Logprobs)))
}

// encodeWAV wraps raw 16-bit little-endian PCM in a canonical 44-byte RIFF
// header.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	var b bytes.Buffer
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+len(pcm)))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&b, binary.LittleEndian, uint16(channels))
	binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&b, binary.LittleEndian, uint32(byteRate))
	binary.Write(&b, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&b, binary.LittleEndian, uint16(bitsPerSample))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(len(pcm)))
	b.Write(pcm)
	return b.Bytes()
}
