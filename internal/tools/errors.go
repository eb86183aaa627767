package tools

import "fmt"

type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("Function %s not implemented.", e.Name)
}

// ToolArgumentParseError reports arguments that do not fit the tool schema.
type ToolArgumentParseError struct {
	Tool string
	Err  error
}

func (e *ToolArgumentParseError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ToolArgumentParseError) Unwrap() error { return e.Err }

// ToolExecutionError wraps a handler failure, including recovered panics.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
