package kayros

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrTransport matches every *TransportError through errors.Is.
var ErrTransport = errors.New("kayros: transport failure")

// ErrInvalidDataType rejects a data type tag that is not 64 hex characters.
var ErrInvalidDataType = errors.New("kayros: data_type must be exactly 64 hex characters")

// ErrResponseTooLarge reports a response body over the client's read limit.
var ErrResponseTooLarge = errors.New("kayros: response exceeds limit")

// TransportError reports that a round trip with the authority did not
// produce a usable answer: the network failed, the request timed out, the
// authority answered with a non-2xx status, or the body was malformed.
type TransportError struct {
	Op     string
	Method string
	URL    string

	// StatusCode is zero when no HTTP response was received.
	StatusCode int
	Status     string
	Body       string

	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("kayros %s: %s %s: %v", e.Op, e.Method, e.URL, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("kayros %s: %s (%d): %v", e.Op, e.URL, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("kayros api error (%d %s): %s - %s", e.StatusCode, http.StatusText(e.StatusCode), e.Op, e.Body)
	}
}

// Unwrap exposes the underlying network or decode error.
func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) hold for any transport error.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Retryable reports whether repeating the call could succeed: network
// failures, timeouts, throttling and server errors qualify. Cancellation and
// client errors do not.
func (e *TransportError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, context.Canceled)
	}
	if e.Err != nil {
		return false
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ErrorCode classifies every transport failure as AUTHORITY_TRANSPORT for
// callers that map errors to stable codes.
func (e *TransportError) ErrorCode() string {
	return "AUTHORITY_TRANSPORT"
}
