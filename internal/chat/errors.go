package chat

import (
	"errors"
	"fmt"
)

// ErrTurnLimitExceeded is returned when a turn keeps requesting tools past the
// configured number of model round trips.
var ErrTurnLimitExceeded = errors.New("turn limit exceeded")

// TransportError wraps a failure talking to the model endpoint.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

var errNoFinishReason = errors.New("stream ended without finish reason")
