// Package gateway exposes the assessment engine over HTTP and WebSocket.
//
// REST endpoints manage the session lifecycle; a WebSocket endpoint carries
// the recording attempt itself, with binary frames of 16-bit little-endian
// PCM flowing client to server and JSON events flowing back. One gateway
// serves one assessment station: the engine underneath holds a single active
// session, matching the one-student-at-the-device deployment model.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/remedialab/lectura/internal/assess"
	"github.com/remedialab/lectura/internal/observe"
	"github.com/remedialab/lectura/internal/scoring"
	"github.com/remedialab/lectura/internal/session"
	"github.com/remedialab/lectura/pkg/provider/asr"
	"github.com/remedialab/lectura/pkg/provider/tts"
	"github.com/remedialab/lectura/pkg/types"
)

// Server routes HTTP and WebSocket traffic to an [assess.Engine].
type Server struct {
	engine  *assess.Engine
	store   session.Store
	mic     *Microphone
	metrics *observe.Metrics

	// defaults applied to /api/speak requests that name no voice
	voice tts.Voice
}

// Config configures a [Server].
type Config struct {
	// Engine drives assessments. Must not be nil; its Microphone must be the
	// value returned by [NewMicrophone] so WebSocket audio reaches it.
	Engine *assess.Engine

	// Microphone is the broker shared with the engine.
	Microphone *Microphone

	// Store answers roster status queries. Optional.
	Store session.Store

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics

	// DefaultVoice is used by /api/speak when the request names no voice.
	DefaultVoice tts.Voice
}

// New creates a gateway server.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("gateway: Engine must not be nil")
	}
	if cfg.Microphone == nil {
		return nil, errors.New("gateway: Microphone must not be nil")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Server{
		engine:  cfg.Engine,
		store:   cfg.Store,
		mic:     cfg.Microphone,
		metrics: cfg.Metrics,
		voice:   cfg.DefaultVoice,
	}, nil
}

// Handler returns the routed and instrumented handler for the API surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.handleStartSession)
	mux.HandleFunc("GET /api/sessions/current", s.handleCurrent)
	mux.HandleFunc("POST /api/sessions/advance", s.handleAdvance)
	mux.HandleFunc("POST /api/sessions/finish", s.handleFinish)
	mux.HandleFunc("DELETE /api/sessions", s.handleStopSession)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/speak", s.handleSpeak)
	mux.HandleFunc("GET /api/attempts", s.handleAttempt)
	return observe.Middleware(s.metrics)(mux)
}

// ─── Session lifecycle ───────────────────────────────────────────────────────

type startSessionRequest struct {
	Subject   string `json:"subject"`
	Activity  string `json:"activity"`
	StudentID string `json:"studentId"`
	Deck      string `json:"deck"`
}

type sessionStateResponse struct {
	State     string              `json:"state"`
	CardIndex int                 `json:"cardIndex"`
	Card      *types.ExpectedCard `json:"card,omitempty"`
	Slides    []types.SlideScore  `json:"slides,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.StudentID == "" {
		writeError(w, http.StatusBadRequest, "studentId is required")
		return
	}

	key := types.SessionKey{Subject: req.Subject, Activity: req.Activity, StudentID: req.StudentID}
	if err := s.engine.StartSession(r.Context(), key, req.Deck); err != nil {
		var terr *session.TransitionError
		switch {
		case errors.Is(err, session.ErrSessionCompleted):
			writeError(w, http.StatusConflict, "session already completed for this student")
		case errors.As(err, &terr):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, s.stateResponse())
}

func (s *Server) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stateResponse())
}

func (s *Server) handleAdvance(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Advance(); err != nil {
		writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.stateResponse())
}

type finishRequest struct {
	TeacherFeedback string `json:"teacherFeedback"`
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if r.Body != nil {
		// An empty body means no feedback.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := s.engine.Finish(r.Context(), req.TeacherFeedback); err != nil {
		if errors.Is(err, session.ErrFeedbackRequired) {
			writeError(w, http.StatusUnprocessableEntity, "teacher feedback is required to save this session")
			return
		}
		writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	s.engine.StopSession(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stateResponse() sessionStateResponse {
	tr := s.engine.Tracker()
	resp := sessionStateResponse{
		State:     string(tr.State()),
		CardIndex: tr.CurrentIndex(),
		Slides:    tr.Slides(),
	}
	if card, ok := tr.CurrentCard(); ok {
		resp.Card = &card
	}
	return resp
}

// ─── Roster status ───────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "no session store configured")
		return
	}
	q := r.URL.Query()
	students := strings.Split(q.Get("students"), ",")
	if len(students) == 1 && students[0] == "" {
		writeError(w, http.StatusBadRequest, "students query parameter is required")
		return
	}
	statuses, err := s.store.FetchStatus(r.Context(), q.Get("subject"), q.Get("activity"), students)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// ─── Playback ────────────────────────────────────────────────────────────────

type speakRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Rate  float64 `json:"rate"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	voice := s.voice
	if req.Voice != "" {
		voice.ID = req.Voice
	}
	if req.Rate != 0 {
		voice.Rate = req.Rate
	}

	clip, err := s.engine.Speak(r.Context(), req.Text, voice)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(clip); err != nil {
		slog.Warn("failed to write audio clip", "err", err)
	}
}

// ─── Attempt WebSocket ───────────────────────────────────────────────────────

// attemptEvent is a server-to-client message on the attempt socket.
type attemptEvent struct {
	Type string `json:"type"`

	// Transcript carries the live partial transcript for "transcript" events.
	Transcript string `json:"transcript,omitempty"`

	// Slide carries the scored result for "score" events.
	Slide *types.SlideScore `json:"slide,omitempty"`

	// Error carries a human-readable message for "error" events.
	Error string `json:"error,omitempty"`
}

// attemptCommand is a client-to-server text message on the attempt socket.
type attemptCommand struct {
	Type string `json:"type"` // "finish" or "cancel"
}

// handleAttempt upgrades to WebSocket and runs one recording attempt over it.
// Binary messages carry PCM audio; a {"type":"finish"} text message ends the
// attempt and triggers scoring; {"type":"cancel"} discards it. The server
// streams {"type":"transcript"} events as recognition progresses and closes
// with a {"type":"score"} or {"type":"no_speech"} event.
func (s *Server) handleAttempt(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "attempt aborted")

	ctx := r.Context()
	sampleRate, channels := s.engine.AudioFormat()
	stream := newWSStream(sampleRate, channels)
	s.mic.stage(stream)
	if err := s.engine.StartAttempt(ctx); err != nil {
		stream.Close()
		writeEvent(ctx, conn, attemptEvent{Type: "error", Error: err.Error()})
		conn.Close(websocket.StatusPolicyViolation, "attempt not started")
		return
	}

	var lastTranscript string
	elapsed := time.Duration(0)
	for {
		kind, data, err := conn.Read(ctx)
		if err != nil {
			// Client vanished mid-attempt: discard rather than score a
			// truncated reading.
			s.engine.CancelAttempt()
			return
		}

		switch kind {
		case websocket.MessageBinary:
			elapsed += pcmDuration(len(data), sampleRate, channels)
			if !stream.push(data, elapsed) {
				s.engine.CancelAttempt()
				writeEvent(ctx, conn, attemptEvent{Type: "error", Error: "audio stream closed"})
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if t := joinTranscript(s.engine.LiveTranscript()); t != lastTranscript {
				lastTranscript = t
				writeEvent(ctx, conn, attemptEvent{Type: "transcript", Transcript: t})
			}

		case websocket.MessageText:
			var cmd attemptCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				writeEvent(ctx, conn, attemptEvent{Type: "error", Error: "malformed command"})
				continue
			}
			switch cmd.Type {
			case "cancel":
				s.engine.CancelAttempt()
				writeEvent(ctx, conn, attemptEvent{Type: "cancelled"})
				conn.Close(websocket.StatusNormalClosure, "")
				return

			case "finish":
				res, err := s.engine.FinishAttempt(ctx)
				switch {
				case errors.Is(err, asr.ErrNoSpeech):
					writeEvent(ctx, conn, attemptEvent{Type: "no_speech"})
				case err != nil:
					writeEvent(ctx, conn, attemptEvent{Type: "error", Error: err.Error()})
				default:
					slide := slideFromResult(s.engine, res)
					writeEvent(ctx, conn, attemptEvent{Type: "score", Slide: &slide})
				}
				conn.Close(websocket.StatusNormalClosure, "")
				return

			default:
				writeEvent(ctx, conn, attemptEvent{Type: "error", Error: "unknown command " + cmd.Type})
			}
		}
	}
}

// slideFromResult returns the slide the tracker just recorded for res. The
// engine records it before FinishAttempt returns, so the newest slide at the
// current index is the one scored.
func slideFromResult(e *assess.Engine, res scoring.Result) types.SlideScore {
	idx := e.Tracker().CurrentIndex()
	for _, sl := range e.Tracker().Slides() {
		if sl.CardIndex == idx {
			return sl
		}
	}
	// Tracker state changed underneath us; fall back to the score itself.
	return res.Slide(idx, "", "")
}

func joinTranscript(parts []string) string {
	return strings.Join(parts, " ")
}

// pcmDuration converts a byte count of 16-bit PCM to wall time.
func pcmDuration(bytes, sampleRate, channels int) time.Duration {
	samples := bytes / 2 / channels
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev attemptEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("websocket write failed", "type", ev.Type, "err", err)
	}
}

// ─── JSON helpers ────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeTransitionError maps tracker errors to HTTP statuses.
func writeTransitionError(w http.ResponseWriter, err error) {
	var terr *session.TransitionError
	switch {
	case errors.As(err, &terr):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrUnscored):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
