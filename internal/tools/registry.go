package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"sync"

	"sidekick/internal/chat"
	"sidekick/internal/observability"
)

// Handler executes a tool with arguments already validated against its schema.
type Handler func(ctx context.Context, args map[string]any) (string, error)

type Tool struct {
	Name        string
	Description string
	Schema      Schema
	Handler     Handler
	// Closer, when set, is closed by Registry.Close.
	Closer io.Closer
}

// decodeError marks a failure to map arguments onto a handler's struct.
type decodeError struct{ err error }

func (e decodeError) Error() string { return e.err.Error() }

// Func builds a Tool whose handler receives its arguments decoded into A.
func Func[A any](name, description string, schema Schema, fn func(context.Context, A) (string, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Schema:      schema,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			raw, err := json.Marshal(args)
			if err != nil {
				return "", decodeError{err}
			}
			var a A
			if err := json.Unmarshal(raw, &a); err != nil {
				return "", decodeError{err}
			}
			return fn(ctx, a)
		},
	}
}

// Registry maps tool names to handlers and exposes their schemas in
// registration order.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	tools   map[string]Tool
	metrics *observability.Metrics
}

func NewRegistry(metrics *observability.Metrics) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		metrics: metrics,
	}
}

// Register adds a tool. Each name may be registered once.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has no handler", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

func (r *Registry) Specs() []chat.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]chat.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, chat.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Schema.JSON(),
		})
	}
	return specs
}

// Call runs the named tool. Errors are *UnknownToolError,
// *ToolArgumentParseError or *ToolExecutionError.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (result string, err error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", &UnknownToolError{Name: name}
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := t.Schema.Validate(args); err != nil {
		return "", &ToolArgumentParseError{Tool: name, Err: err}
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("Tool panicked", "tool", name, "panic", p)
			result, err = "", &ToolExecutionError{Tool: name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	result, err = t.Handler(ctx, args)
	if err != nil {
		var de decodeError
		if errors.As(err, &de) {
			return "", &ToolArgumentParseError{Tool: name, Err: de.err}
		}
		return "", &ToolExecutionError{Tool: name, Err: err}
	}
	return result, nil
}

// Invoke runs the named tool and renders any failure as the result text, so
// the model sees the problem and can retry.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) string {
	result, err := r.Call(ctx, name, args)

	var (
		unknown *UnknownToolError
		badArgs *ToolArgumentParseError
	)
	switch {
	case err == nil:
		r.metrics.ToolCall(name, "ok")
		return result
	case errors.As(err, &unknown):
		log.Warn("Model requested unknown tool", "tool", name)
		r.metrics.ToolCall(name, "unknown")
		return err.Error()
	case errors.As(err, &badArgs):
		log.Warn("Rejected tool arguments", "tool", name, "err", err)
		r.metrics.ToolCall(name, "invalid_args")
		return "Error: " + err.Error()
	default:
		log.Warn("Tool failed", "tool", name, "err", err)
		r.metrics.ToolCall(name, "error")
		return "Error: " + err.Error()
	}
}

// Close releases resources held by registered tools.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, name := range r.order {
		if c := r.tools[name].Closer; c != nil {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
