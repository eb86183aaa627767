package chat

import (
	"context"
	"errors"
	"sync"
)

// scriptedModel replays one scripted round per Stream call.
type scriptedModel struct {
	mu       sync.Mutex
	rounds   []round
	requests []Request
}

type round struct {
	chunks  []Chunk
	openErr error
	readErr error
	onNext  func(i int)
}

func (m *scriptedModel) Stream(_ context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.rounds) == 0 {
		return nil, errors.New("unexpected request")
	}
	r := m.rounds[0]
	m.rounds = m.rounds[1:]
	if r.openErr != nil {
		return nil, r.openErr
	}
	return &scriptedStream{r: r, pos: -1}, nil
}

func (m *scriptedModel) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type scriptedStream struct {
	r      round
	pos    int
	closed bool
}

func (s *scriptedStream) Next() bool {
	if s.r.onNext != nil {
		s.r.onNext(s.pos + 1)
	}
	if s.pos+1 >= len(s.r.chunks) {
		return false
	}
	s.pos++
	return true
}

func (s *scriptedStream) Current() Chunk { return s.r.chunks[s.pos] }

func (s *scriptedStream) Err() error {
	if s.pos+1 >= len(s.r.chunks) {
		return s.r.readErr
	}
	return nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

// recordingTools answers every call with a fixed string per tool name.
type recordingTools struct {
	results map[string]string
	calls   []toolCall
}

type toolCall struct {
	name string
	args map[string]any
}

func (r *recordingTools) Specs() []ToolSpec {
	return []ToolSpec{{Name: "list_directory", Parameters: map[string]any{"type": "object"}}}
}

func (r *recordingTools) Invoke(_ context.Context, name string, args map[string]any) string {
	r.calls = append(r.calls, toolCall{name: name, args: args})
	if res, ok := r.results[name]; ok {
		return res
	}
	return "Function " + name + " not implemented."
}

type eventLog struct {
	events []Event
}

func (l *eventLog) Emit(e Event) { l.events = append(l.events, e) }

func (l *eventLog) fragments() string {
	var s string
	for _, e := range l.events {
		if e.Kind == EventFragment {
			s += e.Text
		}
	}
	return s
}

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func textChunks(parts ...string) []Chunk {
	out := make([]Chunk, 0, len(parts)+1)
	for _, p := range parts {
		out = append(out, Chunk{Text: p})
	}
	return append(out, Chunk{FinishReason: FinishStop})
}
