package rpc

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransient covers timeouts, connection failures and 5xx answers. Retrying later may succeed.
	ErrTransient = errors.New("node unavailable")
	// ErrNotAvailable is returned when the node does not know the requested block (yet).
	ErrNotAvailable = errors.New("not available")
	// ErrMalformedResponse is returned when the body does not match the documented schema.
	ErrMalformedResponse = errors.New("malformed node response")
)

// StatusError is a non-2xx answer from the node.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d", e.Path, e.Code)
}

// Unwrap classifies the status code.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusNotFound:
		return ErrNotAvailable
	case e.Code >= 500 || e.Code == http.StatusTooManyRequests:
		return ErrTransient
	default:
		return ErrMalformedResponse
	}
}

// malformed reports a missing or invalid field.
func malformed(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedResponse, path, fmt.Sprintf(format, args...))
}
