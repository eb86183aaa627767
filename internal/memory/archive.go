package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"sidekick/internal/chat"
)

// Archive mirrors transcript entries of one process session to a Store.
type Archive struct {
	store     Store
	sessionID string

	mu  sync.Mutex
	seq int
}

func NewArchive(store Store, sessionID string) *Archive {
	return &Archive{store: store, sessionID: sessionID}
}

func (a *Archive) SessionID() string { return a.sessionID }

func (a *Archive) Archive(ctx context.Context, t chat.Turn) error {
	a.mu.Lock()
	a.seq++
	seq := a.seq
	a.mu.Unlock()

	rec := TurnRecord{
		SessionID:  a.sessionID,
		Seq:        seq,
		Role:       string(t.Role),
		Content:    t.Content,
		ToolCallID: t.ToolCallID,
	}
	if len(t.ToolCalls) > 0 {
		b, err := json.Marshal(toolCallRecords(t.ToolCalls))
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		rec.ToolCalls = string(b)
	}
	return a.store.SaveTurn(ctx, rec)
}

type toolCallRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func toolCallRecords(calls []chat.ToolCallRequest) []toolCallRecord {
	out := make([]toolCallRecord, len(calls))
	for i, c := range calls {
		out[i] = toolCallRecord{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}
