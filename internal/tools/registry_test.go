package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type echoArgs struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

func echoTool() Tool {
	return Func("echo", "Echo text.",
		Schema{
			Properties: map[string]Property{
				"text":  {Type: "string"},
				"count": {Type: "integer"},
			},
			Required: []string{"text"},
		},
		func(_ context.Context, a echoArgs) (string, error) {
			return strings.Repeat(a.Text, max(a.Count, 1)), nil
		},
	)
}

type closeCounter struct{ n int }

func (c *closeCounter) Close() error {
	c.n++
	return nil
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(echoTool()); err == nil {
		t.Fatal("second Register() of the same name succeeded")
	}
	if n := len(r.Specs()); n != 1 {
		t.Fatalf("Specs() has %d entries, want 1", n)
	}
}

func TestRegistrySpecsKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)
	lake := Datalake{Dir: t.TempDir()}
	for _, tool := range []Tool{NewExcel(lake).Tool(), NewWord(lake).Tool(), lake.ListTool(), echoTool()} {
		if err := r.Register(tool); err != nil {
			t.Fatal(err)
		}
	}

	var names []string
	for _, s := range r.Specs() {
		names = append(names, s.Name)
		if s.Parameters["type"] != "object" {
			t.Fatalf("%s parameters are not an object schema: %v", s.Name, s.Parameters)
		}
	}
	if got, want := strings.Join(names, ","), "process_excel,process_word,list_directory,echo"; got != want {
		t.Fatalf("spec order = %s, want %s", got, want)
	}
}

func TestRegistryCall(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoTool()); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Tool{
		Name: "fail",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("disk full")
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Tool{
		Name: "crash",
		Handler: func(context.Context, map[string]any) (string, error) {
			panic("boom")
		},
	}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	got, err := r.Call(ctx, "echo", map[string]any{"text": "ab", "count": float64(2)})
	if err != nil || got != "abab" {
		t.Fatalf("Call(echo) = %q, %v", got, err)
	}

	var unknown *UnknownToolError
	if _, err := r.Call(ctx, "nope", nil); !errors.As(err, &unknown) {
		t.Fatalf("Call(nope) error = %v, want UnknownToolError", err)
	}

	var badArgs *ToolArgumentParseError
	for _, args := range []map[string]any{
		{},
		{"text": 5},
		{"text": "a", "count": 1.5},
		{"text": "a", "extra": true},
	} {
		if _, err := r.Call(ctx, "echo", args); !errors.As(err, &badArgs) {
			t.Fatalf("Call(echo, %v) error = %v, want ToolArgumentParseError", args, err)
		}
	}

	var execErr *ToolExecutionError
	if _, err := r.Call(ctx, "fail", nil); !errors.As(err, &execErr) {
		t.Fatalf("Call(fail) error = %v, want ToolExecutionError", err)
	}
	if _, err := r.Call(ctx, "crash", nil); !errors.As(err, &execErr) || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Call(crash) error = %v, want recovered ToolExecutionError", err)
	}
}

func TestRegistryInvokeRendersFailures(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoTool()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if got := r.Invoke(ctx, "weather", nil); got != "Function weather not implemented." {
		t.Fatalf("Invoke(weather) = %q", got)
	}
	if got := r.Invoke(ctx, "echo", map[string]any{}); !strings.HasPrefix(got, "Error: invalid arguments for echo") {
		t.Fatalf("Invoke(echo) = %q", got)
	}
	if got := r.Invoke(ctx, "echo", map[string]any{"text": "hi"}); got != "hi" {
		t.Fatalf("Invoke(echo) = %q", got)
	}
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry(nil)
	c := &closeCounter{}
	tool := echoTool()
	tool.Closer = c
	if err := r.Register(tool); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.n != 1 {
		t.Fatalf("closer called %d times, want 1", c.n)
	}
}

func TestSchemaObjectValues(t *testing.T) {
	s := Schema{
		Properties: map[string]Property{
			"write_data": {Type: "object", Values: []string{"string", "number"}},
		},
	}
	if err := s.Validate(map[string]any{"write_data": map[string]any{"A1": 1.0, "B1": "x"}}); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := s.Validate(map[string]any{"write_data": map[string]any{"A1": []any{1.0}}}); err == nil {
		t.Fatal("Validate() accepted an array cell value")
	}

	js := s.JSON()
	if _, ok := js["required"].([]string); !ok {
		t.Fatalf("JSON() required = %#v, want empty list", js["required"])
	}
}
