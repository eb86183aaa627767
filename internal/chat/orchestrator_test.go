package chat

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

func TestRunTurnListDirectoryScenario(t *testing.T) {
	model := &scriptedModel{rounds: []round{
		{chunks: []Chunk{
			{ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_1", Name: "list_directory"}}},
			{FinishReason: FinishToolCalls},
		}},
		{chunks: textChunks("Here are ", "your files: ", "a.xlsx")},
	}}
	tools := &recordingTools{results: map[string]string{"list_directory": "Contents of directory (/data):\nFile: a.xlsx"}}
	orch := NewOrchestrator(model, tools, Options{SystemPrompt: "system"})
	sink := &eventLog{}

	answer, err := orch.Send(context.Background(), "list files", sink)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if answer != "Here are your files: a.xlsx" {
		t.Fatalf("answer = %q", answer)
	}
	if got := sink.fragments(); got != answer {
		t.Fatalf("streamed fragments = %q, want %q", got, answer)
	}
	if n := sink.count(EventEndOfTurn); n != 1 {
		t.Fatalf("end of turn events = %d, want 1", n)
	}
	if last := sink.events[len(sink.events)-1]; last.Kind != EventEndOfTurn {
		t.Fatalf("last event = %v, want end of turn", last.Kind)
	}

	entries := orch.Transcript().Entries()
	wantRoles := []Role{RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleAssistant}
	if len(entries) != len(wantRoles) {
		t.Fatalf("transcript has %d entries, want %d", len(entries), len(wantRoles))
	}
	for i, r := range wantRoles {
		if entries[i].Role != r {
			t.Fatalf("entry %d role = %s, want %s", i, entries[i].Role, r)
		}
	}
	if entries[2].Content != nil || len(entries[2].ToolCalls) != 1 {
		t.Fatalf("assistant tool entry = %+v", entries[2])
	}
	if entries[3].ToolCallID != "call_1" || !strings.HasPrefix(entries[3].Text(), "Contents of directory") {
		t.Fatalf("tool entry = %+v", entries[3])
	}
	if len(tools.calls) != 1 || len(tools.calls[0].args) != 0 {
		t.Fatalf("tool calls = %+v", tools.calls)
	}
	if model.requestCount() != 2 {
		t.Fatalf("requests = %d, want 2", model.requestCount())
	}
	if len(model.requests[1].Messages) != 4 {
		t.Fatalf("second request carried %d messages, want 4", len(model.requests[1].Messages))
	}
}

func TestRunTurnForwardsFragmentsBeforeNextRead(t *testing.T) {
	sink := &eventLog{}
	parts := []string{"a", "b", "c", "d"}
	model := &scriptedModel{rounds: []round{{
		chunks: textChunks(parts...),
		onNext: func(i int) {
			want := i
			if want > len(parts) {
				want = len(parts)
			}
			if got := sink.count(EventFragment); got != want {
				t.Errorf("before reading element %d the sink had %d fragments, want %d", i, got, want)
			}
		},
	}}}
	orch := NewOrchestrator(model, &recordingTools{}, Options{})

	if _, err := orch.Send(context.Background(), "hi", sink); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}

func splitFragments(s string, size int) []string {
	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	return append(out, s)
}

func TestArgumentsIndependentOfFragmentGranularity(t *testing.T) {
	args := `{"file_path":"budget.xlsx","write_data":{"A1":42,"B2":"hello"}}`

	parsed := make([]map[string]any, 0, 3)
	for _, size := range []int{1, 7, len(args)} {
		var chunks []Chunk
		for i, frag := range splitFragments(args, size) {
			d := ToolCallDelta{Index: 0, Arguments: frag}
			if i == 0 {
				d.ID = "call_x"
				d.Name = "process_excel"
			}
			chunks = append(chunks, Chunk{ToolCalls: []ToolCallDelta{d}})
		}
		chunks = append(chunks, Chunk{FinishReason: FinishToolCalls})

		model := &scriptedModel{rounds: []round{{chunks: chunks}, {chunks: textChunks("done")}}}
		tools := &recordingTools{results: map[string]string{"process_excel": "ok"}}
		orch := NewOrchestrator(model, tools, Options{})
		if _, err := orch.Send(context.Background(), "write", nil); err != nil {
			t.Fatalf("size %d: Send() error = %v", size, err)
		}

		entries := orch.Transcript().Entries()
		if got := entries[1].ToolCalls[0].Arguments; got != args {
			t.Fatalf("size %d: arguments = %q, want %q", size, got, args)
		}
		parsed = append(parsed, tools.calls[0].args)
	}

	for i := 1; i < len(parsed); i++ {
		if fmt.Sprint(parsed[i]) != fmt.Sprint(parsed[0]) {
			t.Fatalf("parsed args differ: %v vs %v", parsed[i], parsed[0])
		}
	}
}

func TestParallelToolCallsAccumulateByIndex(t *testing.T) {
	// Fragments of three calls arrive interleaved and out of index order.
	chunks := []Chunk{
		{ToolCalls: []ToolCallDelta{{Index: 2, ID: "c2", Name: "list_directory", Arguments: `{`}}},
		{ToolCalls: []ToolCallDelta{{Index: 0, ID: "c0", Name: "process_word", Arguments: `{"file_path":`}}},
		{ToolCalls: []ToolCallDelta{{Index: 1, ID: "c1", Name: "analyze_file", Arguments: `{"question":"q",`}, {Index: 2, Arguments: `}`}}},
		{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `"a.docx"}`}, {Index: 1, Arguments: `"file_name":"x.png"}`}}},
		{FinishReason: FinishToolCalls},
	}
	model := &scriptedModel{rounds: []round{{chunks: chunks}, {chunks: textChunks("ok")}}}
	tools := &recordingTools{results: map[string]string{}}
	orch := NewOrchestrator(model, tools, Options{})

	if _, err := orch.Send(context.Background(), "go", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	entries := orch.Transcript().Entries()
	calls := entries[1].ToolCalls
	if len(calls) != 3 {
		t.Fatalf("tool calls = %d, want 3", len(calls))
	}
	wantArgs := []string{`{"file_path":"a.docx"}`, `{"question":"q","file_name":"x.png"}`, `{}`}
	for i, c := range calls {
		if c.Index != i {
			t.Fatalf("call %d has index %d", i, c.Index)
		}
		if c.Arguments != wantArgs[i] {
			t.Fatalf("call %d arguments = %q, want %q", i, c.Arguments, wantArgs[i])
		}
		tool := entries[2+i]
		if tool.Role != RoleTool || tool.ToolCallID != c.ID {
			t.Fatalf("entry %d = %+v, want tool result for %s", 2+i, tool, c.ID)
		}
	}
	if tools.calls[0].name != "process_word" || tools.calls[2].name != "list_directory" {
		t.Fatalf("execution order = %+v", tools.calls)
	}
}

func TestMalformedArgumentsRecordedAsToolResult(t *testing.T) {
	model := &scriptedModel{rounds: []round{
		{chunks: []Chunk{
			{ToolCalls: []ToolCallDelta{{Index: 0, ID: "bad", Name: "process_excel", Arguments: `{"file_path": "a.xlsx"`}}},
			{FinishReason: FinishToolCalls},
		}},
		{chunks: textChunks("Sorry, retrying later.")},
	}}
	tools := &recordingTools{}
	orch := NewOrchestrator(model, tools, Options{})

	if _, err := orch.Send(context.Background(), "edit", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(tools.calls) != 0 {
		t.Fatalf("tool invoked with malformed arguments: %+v", tools.calls)
	}
	entries := orch.Transcript().Entries()
	tool := entries[2]
	if tool.Role != RoleTool || tool.ToolCallID != "bad" {
		t.Fatalf("tool entry = %+v", tool)
	}
	if !strings.HasPrefix(tool.Text(), "Error: could not parse arguments") {
		t.Fatalf("tool result = %q", tool.Text())
	}
	if model.requestCount() != 2 {
		t.Fatalf("requests = %d, want 2", model.requestCount())
	}
}

func TestTransportErrorLeavesTranscriptUsable(t *testing.T) {
	boom := errors.New("connection reset")
	model := &scriptedModel{rounds: []round{
		{chunks: []Chunk{{Text: "partial"}}, readErr: boom},
		{chunks: textChunks("recovered")},
	}}
	orch := NewOrchestrator(model, &recordingTools{}, Options{SystemPrompt: "sys"})
	sink := &eventLog{}

	_, err := orch.Send(context.Background(), "first", sink)
	var te *TransportError
	if !errors.As(err, &te) || !errors.Is(err, boom) {
		t.Fatalf("Send() error = %v, want TransportError wrapping %v", err, boom)
	}
	if sink.count(EventError) != 1 || sink.count(EventEndOfTurn) != 1 {
		t.Fatalf("events = %+v", sink.events)
	}
	entries := orch.Transcript().Entries()
	if len(entries) != 2 || entries[1].Role != RoleUser {
		t.Fatalf("transcript after failure = %+v", entries)
	}

	answer, err := orch.Send(context.Background(), "second", nil)
	if err != nil || answer != "recovered" {
		t.Fatalf("Send() = %q, %v", answer, err)
	}
}

func TestOpenErrorIsTransportError(t *testing.T) {
	model := &scriptedModel{rounds: []round{{openErr: errors.New("dial tcp: refused")}}}
	orch := NewOrchestrator(model, &recordingTools{}, Options{})

	_, err := orch.Send(context.Background(), "hi", nil)
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "open stream" {
		t.Fatalf("Send() error = %v", err)
	}
}

func TestStreamWithoutFinishReasonIsTransportError(t *testing.T) {
	model := &scriptedModel{rounds: []round{{chunks: []Chunk{{Text: "cut"}}}}}
	orch := NewOrchestrator(model, &recordingTools{}, Options{})

	_, err := orch.Send(context.Background(), "hi", nil)
	if !errors.Is(err, errNoFinishReason) {
		t.Fatalf("Send() error = %v, want %v", err, errNoFinishReason)
	}
}

func TestTurnLimitExceeded(t *testing.T) {
	var rounds []round
	for i := 0; i < 4; i++ {
		rounds = append(rounds, round{chunks: []Chunk{
			{ToolCalls: []ToolCallDelta{{Index: 0, ID: fmt.Sprintf("c%d", i), Name: "list_directory", Arguments: "{}"}}},
			{FinishReason: FinishToolCalls},
		}})
	}
	model := &scriptedModel{rounds: rounds}
	orch := NewOrchestrator(model, &recordingTools{results: map[string]string{"list_directory": "x"}}, Options{MaxRounds: 3})
	sink := &eventLog{}

	_, err := orch.Send(context.Background(), "loop", sink)
	if !errors.Is(err, ErrTurnLimitExceeded) {
		t.Fatalf("Send() error = %v, want ErrTurnLimitExceeded", err)
	}
	if model.requestCount() != 3 {
		t.Fatalf("requests = %d, want 3", model.requestCount())
	}
	if sink.count(EventEndOfTurn) != 1 {
		t.Fatalf("end of turn events = %d", sink.count(EventEndOfTurn))
	}
}

func TestRunTurnWithoutInputReusesFinalAnswer(t *testing.T) {
	model := &scriptedModel{rounds: []round{{chunks: textChunks("42")}}}
	orch := NewOrchestrator(model, &recordingTools{}, Options{})

	if _, err := orch.Send(context.Background(), "answer?", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	before := orch.Transcript().Len()

	sink := &eventLog{}
	answer, err := orch.RunTurn(context.Background(), nil, sink)
	if err != nil || answer != "42" {
		t.Fatalf("RunTurn(nil) = %q, %v", answer, err)
	}
	if model.requestCount() != 1 {
		t.Fatalf("RunTurn(nil) issued a model request")
	}
	if orch.Transcript().Len() != before {
		t.Fatalf("RunTurn(nil) mutated the transcript")
	}
	if sink.count(EventEndOfTurn) != 1 {
		t.Fatalf("end of turn events = %d", sink.count(EventEndOfTurn))
	}
}

func TestRunTurnWithoutInputAfterToolResultQueriesModel(t *testing.T) {
	model := &scriptedModel{rounds: []round{{chunks: textChunks("hello")}}}
	orch := NewOrchestrator(model, &recordingTools{}, Options{SystemPrompt: "sys"})

	answer, err := orch.RunTurn(context.Background(), nil, nil)
	if err != nil || answer != "hello" {
		t.Fatalf("RunTurn(nil) = %q, %v", answer, err)
	}
	if model.requestCount() != 1 {
		t.Fatalf("requests = %d, want 1", model.requestCount())
	}
}

func TestToolCallIDsFilledWhenMissingOrDuplicated(t *testing.T) {
	model := &scriptedModel{rounds: []round{
		{chunks: []Chunk{
			{ToolCalls: []ToolCallDelta{{Index: 0, Name: "list_directory"}, {Index: 1, ID: "dup", Name: "list_directory"}, {Index: 2, ID: "dup", Name: "list_directory"}}},
			{FinishReason: FinishToolCalls},
		}},
		{chunks: textChunks("ok")},
	}}
	orch := NewOrchestrator(model, &recordingTools{}, Options{})

	if _, err := orch.Send(context.Background(), "go", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	calls := orch.Transcript().Entries()[1].ToolCalls
	seen := map[string]bool{}
	for _, c := range calls {
		if c.ID == "" || seen[c.ID] {
			t.Fatalf("call ids not unique: %+v", calls)
		}
		seen[c.ID] = true
	}
}

// Random interleavings of tool-call fragments must always leave every tool
// result matched to exactly one call of the preceding assistant entry.
func TestToolResultsAlwaysMatchPrecedingCalls(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 50; iter++ {
		var rounds []round
		nRounds := 1 + rng.Intn(3)
		for r := 0; r < nRounds; r++ {
			rounds = append(rounds, round{chunks: randomToolRound(rng, r)})
		}
		rounds = append(rounds, round{chunks: textChunks("final")})

		model := &scriptedModel{rounds: rounds}
		orch := NewOrchestrator(model, &recordingTools{}, Options{SystemPrompt: "sys"})
		if _, err := orch.Send(context.Background(), "go", nil); err != nil {
			t.Fatalf("iteration %d: Send() error = %v", iter, err)
		}
		assertToolResultsMatched(t, orch.Transcript().Entries())
	}
}

func randomToolRound(rng *rand.Rand, r int) []Chunk {
	n := 1 + rng.Intn(4)
	type frag struct {
		idx  int
		text string
	}
	var frags []frag
	for i := 0; i < n; i++ {
		args := fmt.Sprintf(`{"n":%d,"round":%d}`, i, r)
		for _, p := range splitFragments(args, 1+rng.Intn(5)) {
			frags = append(frags, frag{idx: i, text: p})
		}
	}

	// Interleave fragments of different calls while keeping per-call order.
	queues := map[int][]string{}
	for _, f := range frags {
		queues[f.idx] = append(queues[f.idx], f.text)
	}
	started := map[int]bool{}
	var chunks []Chunk
	for len(queues) > 0 {
		idxs := make([]int, 0, len(queues))
		for i := range queues {
			idxs = append(idxs, i)
		}
		i := idxs[rng.Intn(len(idxs))]
		d := ToolCallDelta{Index: i, Arguments: queues[i][0]}
		if !started[i] {
			d.ID = fmt.Sprintf("r%d_c%d", r, i)
			d.Name = "list_directory"
			started[i] = true
		}
		chunks = append(chunks, Chunk{ToolCalls: []ToolCallDelta{d}})
		queues[i] = queues[i][1:]
		if len(queues[i]) == 0 {
			delete(queues, i)
		}
	}
	return append(chunks, Chunk{FinishReason: FinishToolCalls})
}

func assertToolResultsMatched(t *testing.T, entries []Turn) {
	t.Helper()
	var calls map[string]int
	for i, e := range entries {
		switch e.Role {
		case RoleAssistant:
			calls = map[string]int{}
			for _, c := range e.ToolCalls {
				calls[c.ID]++
			}
		case RoleTool:
			if calls[e.ToolCallID] != 1 {
				t.Fatalf("entry %d: tool result %q matches %d calls", i, e.ToolCallID, calls[e.ToolCallID])
			}
		default:
			calls = nil
		}
	}
}
