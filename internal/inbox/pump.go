package inbox

import (
	"context"
	"errors"
	log "log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"sidekick/internal/chat"
)

// Conversation runs one turn per user message.
type Conversation interface {
	Send(ctx context.Context, text string, sink chat.Sink) (string, error)
}

// Pump is the only consumer of the queue and the only caller of the
// conversation.
type Pump struct {
	queue *Queue
	conv  Conversation
	sink  chat.Sink

	// OnMessage, when set, sees each message before its turn starts.
	OnMessage func(Message)

	turn sync.Mutex
	busy atomic.Bool
}

func NewPump(q *Queue, conv Conversation, sink chat.Sink) *Pump {
	return &Pump{queue: q, conv: conv, sink: sink}
}

// Busy reports whether a turn is in progress.
func (p *Pump) Busy() bool { return p.busy.Load() }

// Run processes messages until ctx is cancelled. A turn that has started is
// not interrupted by cancellation.
func (p *Pump) Run(ctx context.Context) error {
	for {
		m, err := p.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		p.process(context.WithoutCancel(ctx), m)
	}
}

func (p *Pump) process(ctx context.Context, m Message) {
	p.turn.Lock()
	p.busy.Store(true)
	defer func() {
		p.busy.Store(false)
		p.turn.Unlock()
	}()

	log.Info("Processing message", "source", m.Source, "text", m.Text)
	if p.OnMessage != nil {
		p.OnMessage(m)
	}

	if _, err := p.conv.Send(ctx, m.Text, p.sink); err != nil {
		log.Error("Turn failed", "source", m.Source, "err", err)
	}
}
