package fetch

import (
	"context"
	"errors"
	"fmt"

	"finstats/internal/source"
)

// Kind classifies a failed request.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindUnauthorized
	KindServer
	KindMalformed
	// KindCanceled means the caller gave up; it is never shown to users.
	// Deadlines are not cancellations: they classify as KindNetwork.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindServer:
		return "server"
	case KindMalformed:
		return "malformed"
	case KindCanceled:
		return "canceled"
	}
	return "unknown"
}

// Message is the user-facing text for a failure of this kind.
func (k Kind) Message() string {
	switch k {
	case KindNetwork:
		return "The server could not be reached. Showing the last data received."
	case KindUnauthorized:
		return "Your session has expired. Please log in again."
	case KindServer:
		return "The server reported an error. Showing the last data received."
	case KindMalformed:
		return "The server sent data that could not be read. Showing the last data received."
	}
	return ""
}

// Error is a classified request failure for one query key.
type Error struct {
	Key  string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps an adapter error onto a Kind. Unclassified errors count as
// network failures: no response that could be trusted was received.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, source.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, source.ErrMalformed):
		return KindMalformed
	case errors.Is(err, source.ErrServer):
		return KindServer
	case errors.Is(err, source.ErrNetwork):
		return KindNetwork
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		// A load that ran out of time never got a response, which is a
		// network failure rather than the caller giving up.
		return KindNetwork
	}
}

// KindOf returns the kind of a fetch error, or 0 when err is not one.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
