package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the transport layer.
var (
	// ErrBodyNotAllowed is returned when a request carries a body on a method that forbids one.
	ErrBodyNotAllowed = errors.New("request body not allowed for method")

	// ErrInvalidRequest is returned for requests that cannot be turned into a handle.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBodyTooLarge is returned when a response body exceeds Options.MaxBodyBytes.
	ErrBodyTooLarge = errors.New("response body too large")

	// ErrHandleInUse is returned when a handle is performed or added twice.
	ErrHandleInUse = errors.New("handle already in use")

	// ErrDriverClosed is returned for operations on a closed multiplex driver.
	ErrDriverClosed = errors.New("multiplex driver closed")

	// ErrTransferIncomplete marks a handle that never finished its transfer.
	ErrTransferIncomplete = errors.New("transfer did not complete")
)

// ErrorClass represents a classification of per-request transport failures.
type ErrorClass string

const (
	// ClassDNS represents host name resolution failures.
	ClassDNS ErrorClass = "dns"

	// ClassConnect represents failures to establish a connection.
	ClassConnect ErrorClass = "connect"

	// ClassTimeout represents transfers that exceeded their deadline.
	ClassTimeout ErrorClass = "timeout"

	// ClassCanceled represents transfers whose request context was cancelled.
	ClassCanceled ErrorClass = "canceled"

	// ClassBodyTooLarge represents responses exceeding the configured body limit.
	ClassBodyTooLarge ErrorClass = "body_too_large"

	// ClassProtocol represents transfers whose result could not be parsed.
	ClassProtocol ErrorClass = "protocol"

	// ClassIncomplete represents handles that never reported completion.
	ClassIncomplete ErrorClass = "incomplete"

	// ClassNetwork represents any other network failure.
	ClassNetwork ErrorClass = "network"
)

// RequestError is a validation failure raised while creating a handle.
type RequestError struct {
	Method string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("invalid %s request: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("invalid %s request to %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// TransportError is a per-request failure to obtain a response.
// It is routed to the request's error callback and never aborts sibling transfers.
type TransportError struct {
	Class  ErrorClass
	Method string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s error: %v", e.Method, e.URL, e.Class, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// DriverCode identifies a fatal multiplex driver failure.
type DriverCode string

const (
	// CodeBadHandle is returned for operations on a closed or unusable driver.
	CodeBadHandle DriverCode = "bad_handle"

	// CodeBadEasyHandle is returned for nil, foreign or reused transfer handles.
	CodeBadEasyHandle DriverCode = "bad_easy_handle"

	// CodeAddedAlready is returned when a handle is added to the same driver twice.
	CodeAddedAlready DriverCode = "added_already"

	// CodeInternalError is returned when the driver's own bookkeeping fails.
	CodeInternalError DriverCode = "internal_error"
)

// DriverError is a fatal multiplex driver failure. It aborts the whole batch.
type DriverError struct {
	Code DriverCode
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *DriverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("multiplex %s failed (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("multiplex %s failed (%s)", e.Op, e.Code)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DriverError) Unwrap() error {
	return e.Err
}

// classifyError categorizes a transfer failure for observability and callbacks.
func classifyError(err error) ErrorClass {
	var dnsErr *net.DNSError
	var opErr *net.OpError
	var netErr net.Error

	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return ClassBodyTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.As(err, &dnsErr):
		return ClassDNS
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return ClassConnect
	case errors.As(err, &netErr) && netErr.Timeout():
		return ClassTimeout
	default:
		return ClassNetwork
	}
}
