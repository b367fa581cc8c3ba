package source

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure classes. Adapters wrap these so callers can use errors.Is.
var (
	ErrNetwork      = errors.New("network error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrServer       = errors.New("server error")
	ErrMalformed    = errors.New("malformed response")
)

// StatusError is a non-success HTTP status returned by a remote source.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("status %d %s: %s", e.Status, http.StatusText(e.Status), e.Body)
}

// Unwrap maps 401 to ErrUnauthorized and every other status to ErrServer.
func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return ErrServer
}

// MalformedError wraps a decoding or validation failure.
func MalformedError(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformed, what, err)
}

// NetworkError wraps a transport failure.
func NetworkError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNetwork, op, err)
}
