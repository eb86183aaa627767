package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"sidekick/internal/observability"
)

const DefaultMaxRounds = 25

const DefaultSystemPrompt = "You are an ultra smart modeling expert. You help people build and optimize models of all sorts. " +
	"You have access to various tools such as analyzing files, processing Excel and Word documents, listing directories, and transcribing audio files. " +
	"Before using a tool, explain succinctly which tools you will use. " +
	"When you use a tool, always explain what you found or what happened immediately after using it. " +
	"Be interactive and conversational - if you need to use multiple tools, discuss the results of each one before moving to the next. " +
	"You may be asked to plug numbers from one Excel file into another Excel calculator and record the results; this can take many rounds of writing to file A, then file B, then file A again."

// Archive mirrors transcript entries to durable storage.
type Archive interface {
	Archive(ctx context.Context, t Turn) error
}

type Options struct {
	SystemPrompt string
	MaxRounds    int
	Archive      Archive
	Metrics      *observability.Metrics
}

// Orchestrator owns the transcript and runs conversation turns against a
// streaming model. RunTurn must not be called concurrently.
type Orchestrator struct {
	model      Model
	tools      Tools
	transcript *Transcript
	maxRounds  int
	archive    Archive
	metrics    *observability.Metrics
}

func NewOrchestrator(model Model, tools Tools, opt Options) *Orchestrator {
	if opt.MaxRounds <= 0 {
		opt.MaxRounds = DefaultMaxRounds
	}
	return &Orchestrator{
		model:      model,
		tools:      tools,
		transcript: NewTranscript(opt.SystemPrompt),
		maxRounds:  opt.MaxRounds,
		archive:    opt.Archive,
		metrics:    opt.Metrics,
	}
}

func (o *Orchestrator) Transcript() *Transcript {
	return o.transcript
}

// Send runs a turn for a new user message.
func (o *Orchestrator) Send(ctx context.Context, text string, sink Sink) (string, error) {
	return o.RunTurn(ctx, &text, sink)
}

// RunTurn appends userText (when non-nil) and drives model round trips until
// the model finishes without requesting tools. Text is forwarded to sink as it
// streams; sink always receives exactly one EventEndOfTurn.
//
// With a nil userText and a transcript that already ends in a final answer,
// RunTurn returns that answer without contacting the model.
func (o *Orchestrator) RunTurn(ctx context.Context, userText *string, sink Sink) (answer string, err error) {
	if sink == nil {
		sink = discardSink{}
	}
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			var te *TransportError
			switch {
			case errors.As(err, &te):
				outcome = "transport_error"
			case errors.Is(err, ErrTurnLimitExceeded):
				outcome = "turn_limit"
			default:
				outcome = "error"
			}
			sink.Emit(Event{Kind: EventError, Text: "Error: " + err.Error()})
		}
		sink.Emit(Event{Kind: EventEndOfTurn})
		o.metrics.ObserveTurn(outcome, time.Since(start))
	}()

	if userText == nil {
		if last, ok := o.transcript.Last(); ok && last.IsFinalAnswer() {
			log.Debug("Turn without new input, reusing last answer")
			return last.Text(), nil
		}
	} else {
		if err := o.append(ctx, textTurn(RoleUser, *userText)); err != nil {
			return "", err
		}
	}

	var text strings.Builder
	for round := 0; ; round++ {
		if round >= o.maxRounds {
			return "", fmt.Errorf("%w: %d model round trips", ErrTurnLimitExceeded, round)
		}

		calls, finish, err := o.streamRound(ctx, &text, sink)
		if err != nil {
			return "", err
		}

		if finish == FinishToolCalls && len(calls) > 0 {
			if err := o.runTools(ctx, calls, sink); err != nil {
				return "", err
			}
			continue
		}

		log.Debug("Turn finished", "reason", finish, "rounds", round+1)
		answer = text.String()
		if answer != "" {
			if err := o.append(ctx, textTurn(RoleAssistant, answer)); err != nil {
				return "", err
			}
		}
		return answer, nil
	}
}

// streamRound issues one completion request and consumes its stream.
func (o *Orchestrator) streamRound(ctx context.Context, text *strings.Builder, sink Sink) ([]ToolCallRequest, FinishReason, error) {
	req := Request{
		Messages: o.transcript.Entries(),
		Tools:    o.tools.Specs(),
	}

	o.metrics.RoundTrip()
	stream, err := o.model.Stream(ctx, req)
	if err != nil {
		return nil, "", &TransportError{Op: "open stream", Err: err}
	}
	defer stream.Close()

	acc := newCallAccumulator()
	var finish FinishReason
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			sink.Emit(Event{Kind: EventFragment, Text: chunk.Text})
		}
		for _, d := range chunk.ToolCalls {
			acc.apply(d)
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
			break
		}
	}
	if err := stream.Err(); err != nil {
		return nil, "", &TransportError{Op: "read stream", Err: err}
	}
	if finish == "" {
		return nil, "", &TransportError{Op: "read stream", Err: errNoFinishReason}
	}

	return acc.requests(), finish, nil
}

// runTools executes one round of tool calls and records it in the transcript:
// one assistant entry with every call, then one tool entry per call.
func (o *Orchestrator) runTools(ctx context.Context, calls []ToolCallRequest, sink Sink) error {
	seen := make(map[string]bool, len(calls))
	for i := range calls {
		if calls[i].ID == "" || seen[calls[i].ID] {
			calls[i].ID = "call_" + uuid.NewString()
		}
		seen[calls[i].ID] = true
	}

	results := make([]string, len(calls))
	for i, c := range calls {
		sink.Emit(Event{Kind: EventToolCall, Text: fmt.Sprintf("Running %s...", c.Name)})
		results[i] = o.invoke(ctx, c)
	}

	if err := o.append(ctx, Turn{Role: RoleAssistant, ToolCalls: calls}); err != nil {
		return err
	}
	for i, c := range calls {
		result := results[i]
		if err := o.append(ctx, Turn{Role: RoleTool, Content: &result, ToolCallID: c.ID}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) invoke(ctx context.Context, c ToolCallRequest) string {
	args := map[string]any{}
	if raw := strings.TrimSpace(c.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			log.Warn("Failed to parse tool arguments", "tool", c.Name, "err", err)
			o.metrics.ToolCall(c.Name, "unparsable")
			return fmt.Sprintf("Error: could not parse arguments for %s: %v", c.Name, err)
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	log.Info("Calling tool", "tool", c.Name, "id", c.ID)
	return o.tools.Invoke(ctx, c.Name, args)
}

func (o *Orchestrator) append(ctx context.Context, t Turn) error {
	if err := o.transcript.Append(t); err != nil {
		return fmt.Errorf("append %s entry: %w", t.Role, err)
	}
	if o.archive != nil {
		if err := o.archive.Archive(ctx, t); err != nil {
			log.Warn("Failed to archive transcript entry", "role", t.Role, "err", err)
		}
	}
	return nil
}
