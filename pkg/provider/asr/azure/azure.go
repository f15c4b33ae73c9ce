// Package azure provides the primary transcription backend: the Azure Speech
// pronunciation assessment service over its streaming WebSocket API. It
// implements the asr.Provider interface.
//
// Each attempt opens a recognition stream scoped to the expected sentence.
// The service emits zero or more "recognized" events carrying segment text,
// timing, native sub-scores (pronunciation, accuracy, fluency, completeness),
// and a per-word breakdown. Two timers bound the attempt: an idle timer fires
// after no new segment arrives for a while (the student stopped reading) and
// a hard ceiling caps runaway streams. Either one triggers finalisation.
package azure

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/remedialab/lectura/pkg/provider/asr"
	"github.com/remedialab/lectura/pkg/textnorm"
	"github.com/remedialab/lectura/pkg/types"
)

const (
	endpointFormat = "wss://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1"

	defaultLanguage   = "en-US"
	defaultSampleRate = 16000

	// defaultIdleTimeout finalises the attempt after this long without a new
	// recognised segment.
	defaultIdleTimeout = 4 * time.Second

	// defaultMaxDuration is the hard ceiling on one attempt.
	defaultMaxDuration = 120 * time.Second

	// tick is the Azure timing unit: 100 ns.
	tick = 100 * time.Nanosecond
)

// TokenSource supplies short-lived bearer tokens for the speech endpoint. A
// source may additionally implement Invalidate(): it is called to drop a
// cached token after the service rejects it, so the next attempt re-fetches.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithLanguage sets the default recognition language. Defaults to "en-US".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithIdleTimeout overrides the silence-based finalisation timer.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Provider) { p.idleTimeout = d }
}

// WithMaxDuration overrides the hard attempt ceiling.
func WithMaxDuration(d time.Duration) Option {
	return func(p *Provider) { p.maxDuration = d }
}

// Provider implements asr.Provider backed by the Azure Speech streaming API.
type Provider struct {
	region      string
	endpoint    string
	tokens      TokenSource
	language    string
	idleTimeout time.Duration
	maxDuration time.Duration
}

// Compile-time interface assertion.
var _ asr.Provider = (*Provider)(nil)

// New creates a Provider for the given Azure region. tokens must be non-nil.
func New(region string, tokens TokenSource, opts ...Option) (*Provider, error) {
	if region == "" {
		return nil, errors.New("azure: region must not be empty")
	}
	if tokens == nil {
		return nil, errors.New("azure: token source must not be nil")
	}
	p := &Provider{
		region:      region,
		endpoint:    fmt.Sprintf(endpointFormat, region),
		tokens:      tokens,
		language:    defaultLanguage,
		idleTimeout: defaultIdleTimeout,
		maxDuration: defaultMaxDuration,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// assessmentParams is the pronunciation assessment configuration sent as a
// base64 JSON header, scoping the assessment to the reference text.
type assessmentParams struct {
	ReferenceText string `json:"ReferenceText"`
	GradingSystem string `json:"GradingSystem"`
	Granularity   string `json:"Granularity"`
	EnableMiscue  bool   `json:"EnableMiscue"`
}

// StartAttempt opens a streaming pronunciation assessment scoped to
// cfg.ReferenceText.
func (p *Provider) StartAttempt(ctx context.Context, cfg asr.AttemptConfig) (asr.AttemptHandle, error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("azure: obtain token: %w", err)
	}

	params, err := json.Marshal(assessmentParams{
		ReferenceText: cfg.ReferenceText,
		GradingSystem: "HundredMark",
		Granularity:   "Word",
		EnableMiscue:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("azure: marshal assessment params: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("azure: endpoint: %w", err)
	}
	q := u.Query()
	q.Set("language", lang)
	q.Set("format", "detailed")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	headers.Set("Pronunciation-Assessment", base64.StdEncoding.EncodeToString(params))

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		// A rejected token would otherwise be retried until its cached expiry.
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			if inv, ok := p.tokens.(interface{ Invalidate() }); ok {
				inv.Invalidate()
			}
		}
		return nil, fmt.Errorf("azure: dial: %w", err)
	}

	maxDur := cfg.MaxDuration
	if maxDur <= 0 {
		maxDur = p.maxDuration
	}

	a := &attempt{
		conn:     conn,
		expected: textnorm.Tokens(cfg.ReferenceText),
		segments: make(chan types.SpeechSegment, 16),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
		idle:     time.NewTimer(p.idleTimeout),
		ceiling:  time.NewTimer(maxDur),
		idleTTL:  p.idleTimeout,
	}

	a.wg.Add(3)
	go a.readLoop(ctx)
	go a.writeLoop(ctx)
	go a.watchdog()

	return a, nil
}

// recognitionResponse models the service's "speech.phrase" JSON payload with
// pronunciation assessment enabled. Offsets and durations are in 100 ns ticks.
type recognitionResponse struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	Offset            int64  `json:"Offset"`
	Duration          int64  `json:"Duration"`
	NBest             []struct {
		Confidence float64 `json:"Confidence"`
		Lexical    string  `json:"Lexical"`

		PronunciationAssessment struct {
			AccuracyScore     float64 `json:"AccuracyScore"`
			FluencyScore      float64 `json:"FluencyScore"`
			CompletenessScore float64 `json:"CompletenessScore"`
			PronScore         float64 `json:"PronScore"`
		} `json:"PronunciationAssessment"`

		Words []struct {
			Word                    string `json:"Word"`
			PronunciationAssessment struct {
				AccuracyScore float64 `json:"AccuracyScore"`
				ErrorType     string  `json:"ErrorType"`
			} `json:"PronunciationAssessment"`
		} `json:"Words"`
	} `json:"NBest"`
}

// attempt is a live streaming assessment. It implements asr.AttemptHandle.
type attempt struct {
	conn     *websocket.Conn
	expected []string

	segments chan types.SpeechSegment
	audio    chan []byte

	mu        sync.Mutex
	collected []types.SpeechSegment

	done     chan struct{}
	readDone chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
	idle     *time.Timer
	idleTTL  time.Duration
	ceiling  *time.Timer
}

// SendAudio queues a PCM chunk for delivery to the service.
func (a *attempt) SendAudio(chunk []byte) error {
	select {
	case <-a.done:
		return asr.ErrClosed
	default:
	}
	select {
	case a.audio <- chunk:
		return nil
	case <-a.done:
		return asr.ErrClosed
	}
}

// Segments returns the channel of recognised segments in arrival order.
func (a *attempt) Segments() <-chan types.SpeechSegment { return a.segments }

// Finalize waits for the stream to settle (idle timer, ceiling, or explicit
// shutdown), merges all collected segments, and repairs omissions against the
// expected sentence. Returns asr.ErrNoSpeech when nothing was recognised.
func (a *attempt) Finalize(ctx context.Context) (types.AggregateResult, error) {
	// Stop accepting and flush what the service owes us.
	a.shutdown()

	finished := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return types.AggregateResult{}, ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	res := asr.MergeSegments(a.collected)
	if res.WordCount == 0 {
		return types.AggregateResult{}, asr.ErrNoSpeech
	}
	res.Words = asr.RepairOmissions(a.expected, res.Words)
	return res, nil
}

// Close cancels the attempt. Segments arriving afterwards are dropped.
// Calling Close more than once is a no-op.
func (a *attempt) Close() error {
	a.shutdown()
	a.wg.Wait()
	return nil
}

// shutdown initiates teardown exactly once: signals the loops, asks the
// service to flush its last result, then closes the socket. The read loop is
// given one idle interval to collect the flushed result before the socket is
// forced shut — without the force-close a silent server would hang Finalize.
func (a *attempt) shutdown() {
	a.once.Do(func() {
		close(a.done)
		_ = a.conn.Write(context.Background(), websocket.MessageText,
			[]byte(`{"path":"audio.end"}`))
		go func() {
			select {
			case <-a.readDone:
			case <-time.After(a.idleTTL):
			}
			a.conn.Close(websocket.StatusNormalClosure, "attempt finished")
		}()
	})
}

// watchdog enforces the idle and ceiling timers.
func (a *attempt) watchdog() {
	defer a.wg.Done()
	select {
	case <-a.idle.C:
	case <-a.ceiling.C:
	case <-a.done:
		a.idle.Stop()
		a.ceiling.Stop()
		return
	}
	a.shutdown()
}

// writeLoop forwards queued audio to the service as binary messages.
func (a *attempt) writeLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case chunk := <-a.audio:
			if err := a.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-a.done:
			// Drain the audio queue so the tail of the utterance is assessed.
			for {
				select {
				case chunk := <-a.audio:
					_ = a.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives recognition events, converts them to segments, and
// dispatches them in arrival order.
func (a *attempt) readLoop(ctx context.Context) {
	defer a.wg.Done()
	defer close(a.segments)
	defer close(a.readDone)

	for {
		_, msg, err := a.conn.Read(ctx)
		if err != nil {
			// Normal close or cancellation.
			return
		}
		seg, ok := parseRecognition(msg)
		if !ok {
			continue
		}

		a.mu.Lock()
		a.collected = append(a.collected, seg)
		a.mu.Unlock()

		// A fresh segment restarts the idle countdown.
		a.idle.Reset(a.idleTTL)

		select {
		case a.segments <- seg:
		case <-a.done:
			return
		}
	}
}

// parseRecognition converts a raw service message into a SpeechSegment.
// Messages that are not successful phrase results are ignored.
func parseRecognition(data []byte) (types.SpeechSegment, bool) {
	var resp recognitionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.SpeechSegment{}, false
	}
	if resp.RecognitionStatus != "Success" || len(resp.NBest) == 0 {
		return types.SpeechSegment{}, false
	}

	best := resp.NBest[0]
	words := make([]types.WordFeedback, 0, len(best.Words))
	for _, w := range best.Words {
		wf := types.WordFeedback{
			Word:          w.Word,
			AccuracyScore: w.PronunciationAssessment.AccuracyScore,
			ErrorType:     types.ErrorType(w.PronunciationAssessment.ErrorType),
		}
		if wf.ErrorType == "" {
			wf.ErrorType = types.ErrorNone
		}
		words = append(words, wf)
	}

	start := time.Duration(resp.Offset) * tick
	return types.SpeechSegment{
		Start:      start,
		End:        start + time.Duration(resp.Duration)*tick,
		RawText:    resp.DisplayText,
		Confidence: best.Confidence,
		Scores: &types.SubScores{
			Pronunciation: best.PronunciationAssessment.PronScore,
			Accuracy:      best.PronunciationAssessment.AccuracyScore,
			Fluency:       best.PronunciationAssessment.FluencyScore,
			Completeness:  best.PronunciationAssessment.CompletenessScore,
		},
		Words: words,
	}, true
}
