package chat

import "sync"

type EventKind int

const (
	// EventFragment carries a piece of the assistant answer.
	EventFragment EventKind = iota
	// EventToolCall announces a tool about to run. Not part of the answer.
	EventToolCall
	// EventError carries a user-facing failure message for the turn.
	EventError
	// EventEndOfTurn is sent exactly once per turn, last.
	EventEndOfTurn
)

func (k EventKind) String() string {
	switch k {
	case EventFragment:
		return "fragment"
	case EventToolCall:
		return "tool_call"
	case EventError:
		return "error"
	case EventEndOfTurn:
		return "end_of_turn"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind
	Text string
}

// Sink observes the events of a turn. Emit is called from the goroutine running
// the turn, in order, and must not block for long.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// MultiSink fans events out to several observers in order.
type MultiSink struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

func (m *MultiSink) Add(s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

func (m *MultiSink) Emit(e Event) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()
	for _, s := range sinks {
		s.Emit(e)
	}
}

type discardSink struct{}

func (discardSink) Emit(Event) {}
