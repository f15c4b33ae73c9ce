package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/remedialab/lectura/internal/assess"
	"github.com/remedialab/lectura/internal/content"
	"github.com/remedialab/lectura/internal/gateway"
	"github.com/remedialab/lectura/internal/session"
	"github.com/remedialab/lectura/pkg/provider/asr"
	asrmock "github.com/remedialab/lectura/pkg/provider/asr/mock"
	"github.com/remedialab/lectura/pkg/provider/tts"
	ttsmock "github.com/remedialab/lectura/pkg/provider/tts/mock"
	"github.com/remedialab/lectura/pkg/types"
)

type nopStore struct{}

func (nopStore) SaveSlides(context.Context, string, []types.SlideScore, string) error { return nil }
func (nopStore) SavePerformance(context.Context, session.PerformanceEntry) error      { return nil }
func (nopStore) FetchStatus(_ context.Context, _, _ string, ids []string) ([]types.SessionStatus, error) {
	out := make([]types.SessionStatus, len(ids))
	for i, id := range ids {
		out[i] = types.SessionStatus{StudentID: id}
	}
	return out, nil
}
func (nopStore) FetchLock(context.Context, types.SessionKey) (*types.SessionLockState, error) {
	return nil, nil
}
func (nopStore) UpsertLock(context.Context, types.SessionKey, types.SessionLockState) error {
	return nil
}

func newTestServer(t *testing.T, recognizer asr.Provider, speaker tts.Provider) (*httptest.Server, *assess.Engine) {
	t.Helper()
	mic := gateway.NewMicrophone()
	eng, err := assess.New(assess.Config{
		Microphone: mic,
		Recognizer: recognizer,
		Speaker:    speaker,
		Cards:      content.NewSource(t.TempDir()),
		Tracker:    session.NewTracker(nopStore{}),
	})
	if err != nil {
		t.Fatalf("assess.New: %v", err)
	}
	gw, err := gateway.New(gateway.Config{
		Engine:       eng,
		Microphone:   mic,
		Store:        nopStore{},
		DefaultVoice: tts.Voice{ID: "en-US-JennyNeural"},
	})
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv, eng
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func startSession(t *testing.T, srv *httptest.Server) {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/sessions", map[string]string{
		"subject":   "reading",
		"activity":  "oral-1",
		"studentId": "s-1",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start session status = %d, want 201", resp.StatusCode)
	}
}

func TestStartSession_ReturnsFirstCard(t *testing.T) {
	srv, _ := newTestServer(t, &asrmock.Provider{}, nil)

	resp := postJSON(t, srv.URL+"/api/sessions", map[string]string{"studentId": "s-1"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var state struct {
		State     string              `json:"state"`
		CardIndex int                 `json:"cardIndex"`
		Card      *types.ExpectedCard `json:"card"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.State != "selecting" {
		t.Errorf("state = %q, want selecting", state.State)
	}
	if state.Card == nil || state.Card.Sentence != content.SeedDeck()[0].Sentence {
		t.Errorf("card = %+v, want the first seed card", state.Card)
	}
}

func TestStartSession_MissingStudentID(t *testing.T) {
	srv, _ := newTestServer(t, &asrmock.Provider{}, nil)
	resp := postJSON(t, srv.URL+"/api/sessions", map[string]string{"subject": "reading"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAdvance_WithoutScoreConflicts(t *testing.T) {
	srv, _ := newTestServer(t, &asrmock.Provider{}, nil)
	startSession(t, srv)

	resp := postJSON(t, srv.URL+"/api/sessions/advance", struct{}{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("advance before scoring status = %d, want 409", resp.StatusCode)
	}
}

func TestStatus_ReturnsRoster(t *testing.T) {
	srv, _ := newTestServer(t, &asrmock.Provider{}, nil)

	resp, err := http.Get(srv.URL + "/api/status?subject=reading&activity=oral-1&students=a,b")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var roster []types.SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&roster); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(roster) != 2 || roster[0].StudentID != "a" {
		t.Errorf("roster = %+v", roster)
	}
}

func TestSpeak_ReturnsAudio(t *testing.T) {
	speaker := &ttsmock.Provider{Clip: []byte("RIFFdata")}
	srv, _ := newTestServer(t, &asrmock.Provider{}, speaker)

	resp := postJSON(t, srv.URL+"/api/speak", map[string]string{"text": "read with me"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("content type = %q, want audio/wav", ct)
	}
	if speaker.SynthesizeCallCount() != 1 {
		t.Errorf("synthesize calls = %d, want 1", speaker.SynthesizeCallCount())
	}
	if got := speaker.SynthesizeCalls[0].Voice.ID; got != "en-US-JennyNeural" {
		t.Errorf("voice = %q, want the default", got)
	}
}

func TestSpeak_EmptyText(t *testing.T) {
	srv, _ := newTestServer(t, &asrmock.Provider{}, &ttsmock.Provider{})
	resp := postJSON(t, srv.URL+"/api/speak", map[string]string{"text": ""})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func wsDial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/attempts"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	return conn
}

// readUntil reads events until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read waiting for %q: %v", wantType, err)
		}
		var ev map[string]any
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev["type"] == wantType {
			return ev
		}
	}
}

func TestAttemptSocket_FinishScoresCard(t *testing.T) {
	att := &asrmock.Attempt{
		SegmentsCh: make(chan types.SpeechSegment, 4),
		FinalizeResult: types.AggregateResult{
			Text:   "the cat sat on the mat",
			Scores: &types.SubScores{Pronunciation: 95, Accuracy: 93, Fluency: 90, Completeness: 100},
		},
	}
	srv, eng := newTestServer(t, &asrmock.Provider{Attempt: att}, nil)
	startSession(t, srv)

	conn := wsDial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := context.Background()
	pcm := make([]byte, 3200) // 100ms of silence at 16 kHz mono
	if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"finish"}`)); err != nil {
		t.Fatalf("write finish: %v", err)
	}

	ev := readUntil(t, conn, "score")
	slide, ok := ev["slide"].(map[string]any)
	if !ok {
		t.Fatalf("score event without slide: %v", ev)
	}
	if slide["transcription"] != "the cat sat on the mat" {
		t.Errorf("transcription = %v", slide["transcription"])
	}
	close(att.SegmentsCh)

	if eng.Tracker().State() != session.StateScored {
		t.Errorf("tracker state = %v, want Scored", eng.Tracker().State())
	}
}

func TestAttemptSocket_NoSpeech(t *testing.T) {
	att := &asrmock.Attempt{
		SegmentsCh:  make(chan types.SpeechSegment),
		FinalizeErr: asr.ErrNoSpeech,
	}
	srv, eng := newTestServer(t, &asrmock.Provider{Attempt: att}, nil)
	startSession(t, srv)
	close(att.SegmentsCh)

	conn := wsDial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := context.Background()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"finish"}`)); err != nil {
		t.Fatalf("write finish: %v", err)
	}
	readUntil(t, conn, "no_speech")

	if eng.Tracker().State() != session.StateRecording {
		t.Errorf("tracker state = %v, want Recording for a retry", eng.Tracker().State())
	}
}

func TestAttemptSocket_Cancel(t *testing.T) {
	att := &asrmock.Attempt{SegmentsCh: make(chan types.SpeechSegment)}
	srv, eng := newTestServer(t, &asrmock.Provider{Attempt: att}, nil)
	startSession(t, srv)
	close(att.SegmentsCh)

	conn := wsDial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := context.Background()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"cancel"}`)); err != nil {
		t.Fatalf("write cancel: %v", err)
	}
	readUntil(t, conn, "cancelled")

	if got := att.CloseCallCount; got == 0 {
		t.Error("attempt handle was not closed on cancel")
	}
	if len(eng.Tracker().Slides()) != 0 {
		t.Error("cancelled attempt recorded a score")
	}
}

func TestAttemptSocket_LiveTranscript(t *testing.T) {
	att := &asrmock.Attempt{SegmentsCh: make(chan types.SpeechSegment, 4)}
	srv, _ := newTestServer(t, &asrmock.Provider{Attempt: att}, nil)
	startSession(t, srv)

	conn := wsDial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := context.Background()
	att.SegmentsCh <- types.SpeechSegment{RawText: "The cat"}
	// Give the collector a moment to pick up the segment, then trigger a
	// transcript push with an audio frame.
	time.Sleep(50 * time.Millisecond)
	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 640)); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	ev := readUntil(t, conn, "transcript")
	if ev["transcript"] != "The cat" {
		t.Errorf("transcript = %v, want %q", ev["transcript"], "The cat")
	}

	conn.Write(ctx, websocket.MessageText, []byte(`{"type":"cancel"}`))
	readUntil(t, conn, "cancelled")
	close(att.SegmentsCh)
}
