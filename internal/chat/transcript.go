package chat

import (
	"fmt"
	"sync"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRequest is one model-issued tool call, keyed by Index while it streams.
type ToolCallRequest struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Turn is a single transcript entry.
//
// Content is nil on assistant entries that only request tools. ToolCalls is set
// only on assistant entries, ToolCallID only on tool entries.
type Turn struct {
	Role       Role
	Content    *string
	ToolCalls  []ToolCallRequest
	ToolCallID string
}

// Text returns the entry content or "" when it has none.
func (t Turn) Text() string {
	if t.Content == nil {
		return ""
	}
	return *t.Content
}

// IsFinalAnswer reports whether t is an assistant message without tool calls.
func (t Turn) IsFinalAnswer() bool {
	return t.Role == RoleAssistant && len(t.ToolCalls) == 0 && t.Content != nil
}

func textTurn(role Role, text string) Turn {
	return Turn{Role: role, Content: &text}
}

// Transcript is the append-only conversation history.
//
// Appends are made by the goroutine running a turn; the lock only protects
// readers such as the HTTP status surface.
type Transcript struct {
	mu      sync.RWMutex
	entries []Turn
}

func NewTranscript(systemPrompt string) *Transcript {
	t := &Transcript{}
	if systemPrompt != "" {
		t.entries = append(t.entries, textTurn(RoleSystem, systemPrompt))
	}
	return t
}

// Append adds an entry after checking that tool results answer a call from the
// assistant entry that precedes them.
func (t *Transcript) Append(turn Turn) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if turn.Role == RoleTool {
		if err := t.checkToolResult(turn.ToolCallID); err != nil {
			return err
		}
	}
	turn.ToolCalls = append([]ToolCallRequest(nil), turn.ToolCalls...)
	t.entries = append(t.entries, turn)
	return nil
}

func (t *Transcript) checkToolResult(id string) error {
	if id == "" {
		return fmt.Errorf("tool result without tool call id")
	}

	seen := map[string]bool{}
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		switch e.Role {
		case RoleTool:
			seen[e.ToolCallID] = true
			continue
		case RoleAssistant:
			if seen[id] {
				return fmt.Errorf("tool call %s already answered", id)
			}
			matches := 0
			for _, c := range e.ToolCalls {
				if c.ID == id {
					matches++
				}
			}
			if matches != 1 {
				return fmt.Errorf("tool call %s does not match preceding assistant entry", id)
			}
			return nil
		}
		break
	}
	return fmt.Errorf("tool result %s has no preceding assistant entry", id)
}

// Entries returns a copy of the history.
func (t *Transcript) Entries() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Last returns the most recent entry.
func (t *Transcript) Last() (Turn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.entries) == 0 {
		return Turn{}, false
	}
	return t.entries[len(t.entries)-1], true
}
