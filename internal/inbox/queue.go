package inbox

import (
	"context"
	"sync"
	"time"

	"sidekick/internal/observability"
)

type Source string

const (
	SourceVoice Source = "voice"
	SourceIPC   Source = "ipc"
	SourceHTTP  Source = "http"
	SourceBus   Source = "bus"
)

type Message struct {
	Text   string
	Source Source
	At     time.Time
}

// Queue is an unbounded FIFO of inbound messages. Push never blocks.
type Queue struct {
	mu      sync.Mutex
	items   []Message
	ready   chan struct{}
	metrics *observability.Metrics
}

func NewQueue(metrics *observability.Metrics) *Queue {
	return &Queue{
		ready:   make(chan struct{}, 1),
		metrics: metrics,
	}
}

func (q *Queue) Push(m Message) {
	if m.At.IsZero() {
		m.At = time.Now()
	}

	q.mu.Lock()
	q.items = append(q.items, m)
	n := len(q.items)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(n)
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop blocks until a message is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items[0] = Message{}
			q.items = q.items[1:]
			n := len(q.items)
			q.mu.Unlock()
			q.metrics.SetQueueDepth(n)
			return m, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
