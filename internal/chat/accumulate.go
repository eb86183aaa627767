package chat

import (
	"sort"
	"strings"
)

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// callAccumulator rebuilds tool calls from streamed fragments keyed by index.
type callAccumulator struct {
	calls map[int]*pendingCall
}

func newCallAccumulator() *callAccumulator {
	return &callAccumulator{calls: make(map[int]*pendingCall)}
}

func (a *callAccumulator) apply(d ToolCallDelta) {
	c, ok := a.calls[d.Index]
	if !ok {
		c = &pendingCall{}
		a.calls[d.Index] = c
	}
	if c.id == "" && d.ID != "" {
		c.id = d.ID
	}
	if c.name == "" && d.Name != "" {
		c.name = d.Name
	}
	c.args.WriteString(d.Arguments)
}

// requests freezes the accumulated calls in ascending index order.
func (a *callAccumulator) requests() []ToolCallRequest {
	idx := make([]int, 0, len(a.calls))
	for i := range a.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]ToolCallRequest, 0, len(idx))
	for _, i := range idx {
		c := a.calls[i]
		out = append(out, ToolCallRequest{
			Index:     i,
			ID:        c.id,
			Name:      c.name,
			Arguments: c.args.String(),
		})
	}
	return out
}
