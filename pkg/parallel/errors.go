package parallel

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCallbackPanic wraps a value recovered from a panicking callback.
	ErrCallbackPanic = errors.New("callback panicked")

	// ErrExecuteInProgress is returned by Execute while another Execute call
	// on the same executor is running, including one made from a callback.
	ErrExecuteInProgress = errors.New("execute already in progress")
)

// Callback kinds used in CallbackError and metrics.
const (
	SuccessCallback = "success"
	ErrorCallback   = "error"
)

// CallbackError is an error returned by, or a panic raised in, a user callback.
type CallbackError struct {
	Seq      int
	Callback string
	Err      error
}

// Error implements the error interface.
func (e *CallbackError) Error() string {
	return fmt.Sprintf("request %d: %s callback: %v", e.Seq, e.Callback, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *CallbackError) Unwrap() error {
	return e.Err
}

// AggregateError collects every isolated failure of one Execute call.
type AggregateError struct {
	Errors []error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d error(s) during parallel execution: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap returns the collected errors for errors.Is/As.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// Len returns the number of collected errors.
func (e *AggregateError) Len() int {
	return len(e.Errors)
}
