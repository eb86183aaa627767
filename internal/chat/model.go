package chat

import "context"

type FinishReason string

const (
	FinishToolCalls     FinishReason = "tool_calls"
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
)

// ToolSpec describes one callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one streaming completion request.
type Request struct {
	Messages []Turn
	Tools    []ToolSpec
}

// ToolCallDelta is a fragment of a tool call. Only Index is always set.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Chunk is one element of a completion stream.
type Chunk struct {
	Text         string
	ToolCalls    []ToolCallDelta
	FinishReason FinishReason
}

// Stream follows the Next/Current/Err iteration used by the openai-go SSE streams.
type Stream interface {
	Next() bool
	Current() Chunk
	Err() error
	Close() error
}

// Model opens one streaming completion per call. Tool choice is always automatic.
type Model interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Tools is what the orchestrator needs from the tool registry.
type Tools interface {
	Specs() []ToolSpec
	Invoke(ctx context.Context, name string, args map[string]any) string
}
