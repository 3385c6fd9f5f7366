package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyInput      = errors.New("message content is required")
	ErrRequestInFlight = errors.New("a response is still being generated")
	ErrSessionNotFound = errors.New("session not found")
	ErrUnavailable     = errors.New("completion endpoint not configured")
)

// TransportError means the completion endpoint was unreachable or answered
// with a non-success status.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("completion endpoint returned status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("completion endpoint unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StreamError means the token stream ended abnormally after it was opened.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream interrupted: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// TimeoutError means the request exceeded the configured duration limit.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("response not completed within %s", e.Limit)
}

// Is matches any *TimeoutError regardless of its limit.
func (e *TimeoutError) Is(target error) bool {
	_, ok := target.(*TimeoutError)
	return ok
}

// DisplayError converts any error into a message fit for the chat window.
func DisplayError(err error) string {
	if err == nil {
		return "unknown error"
	}

	var transport *TransportError
	var stream *StreamError
	var timeout *TimeoutError
	switch {
	case errors.As(err, &timeout):
		return timeout.Error()
	case errors.As(err, &transport):
		if transport.StatusCode > 0 {
			return fmt.Sprintf("the model service returned an error (status %d)", transport.StatusCode)
		}
		return "the model service could not be reached"
	case errors.As(err, &stream):
		return "the response stream was interrupted"
	}

	if msg := err.Error(); msg != "" {
		return msg
	}
	data, _ := json.Marshal(err)
	return string(data)
}
