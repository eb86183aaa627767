package memory

import (
	"context"
	"time"
)

// TurnRecord is one archived transcript entry.
type TurnRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Seq        int       `json:"seq"`
	Role       string    `json:"role"`
	Content    *string   `json:"content,omitempty"`
	ToolCalls  string    `json:"tool_calls,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists transcript entries.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	Recent(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Close() error
}
