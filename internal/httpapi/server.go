package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sidekick/internal/chat"
	"sidekick/internal/inbox"
	"sidekick/internal/observability"
)

// Turns reports whether a conversation turn is running.
type Turns interface {
	Busy() bool
}

type Server struct {
	queue      *inbox.Queue
	mute       *inbox.Mute
	turns      Turns
	transcript *chat.Transcript
	metrics    *observability.Metrics
	sessionID  string
	startedAt  time.Time
}

type Options struct {
	Queue      *inbox.Queue
	Mute       *inbox.Mute
	Turns      Turns
	Transcript *chat.Transcript
	Metrics    *observability.Metrics
	SessionID  string
}

func New(opt Options) *Server {
	return &Server{
		queue:      opt.Queue,
		mute:       opt.Mute,
		turns:      opt.Turns,
		transcript: opt.Transcript,
		metrics:    opt.Metrics,
		sessionID:  opt.SessionID,
		startedAt:  time.Now().UTC(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/messages", s.handlePostMessage)
		r.Post("/mute", s.handleSetMute(true))
		r.Post("/unmute", s.handleSetMute(false))
		r.Post("/mute/toggle", s.handleToggleMute)
		r.Get("/transcript", s.handleTranscript)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type statusResponse struct {
	SessionID  string    `json:"session_id"`
	Muted      bool      `json:"muted"`
	Busy       bool      `json:"busy"`
	QueueDepth int       `json:"queue_depth"`
	Entries    int       `json:"transcript_entries"`
	StartedAt  time.Time `json:"started_at"`
}

func (s *Server) status() statusResponse {
	st := statusResponse{
		SessionID: s.sessionID,
		StartedAt: s.startedAt,
	}
	if s.mute != nil {
		st.Muted = s.mute.Muted()
	}
	if s.turns != nil {
		st.Busy = s.turns.Busy()
	}
	if s.queue != nil {
		st.QueueDepth = s.queue.Len()
	}
	if s.transcript != nil {
		st.Entries = s.transcript.Len()
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.status())
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text must not be empty")
		return
	}

	s.queue.Push(inbox.Message{Text: text, Source: inbox.SourceHTTP})
	respondJSON(w, http.StatusAccepted, map[string]any{
		"queued":      true,
		"queue_depth": s.queue.Len(),
	})
}

func (s *Server) handleSetMute(muted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.mute.Set(muted)
		respondJSON(w, http.StatusOK, map[string]any{"muted": s.mute.Muted()})
	}
}

func (s *Server) handleToggleMute(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"muted": s.mute.Toggle()})
}

type entryResponse struct {
	Role       string             `json:"role"`
	Content    *string            `json:"content"`
	ToolCalls  []toolCallResponse `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
}

type toolCallResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	entries := s.transcript.Entries()
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		item := entryResponse{
			Role:       string(e.Role),
			Content:    e.Content,
			ToolCallID: e.ToolCallID,
		}
		for _, c := range e.ToolCalls {
			item.ToolCalls = append(item.ToolCalls, toolCallResponse{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
		}
		out = append(out, item)
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": out})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
