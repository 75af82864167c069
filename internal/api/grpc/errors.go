package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"library-circulation/internal/domain"
	"library-circulation/internal/notify"
)

// toStatus maps service errors onto gRPC status codes. Errors that already carry a
// status are returned unchanged.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrUnavailable):
		return codes.ResourceExhausted
	case errors.Is(err, domain.ErrAlreadyReturned):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrConflict):
		return codes.Aborted
	case errors.Is(err, domain.ErrInvalidInput):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrInvariantViolation):
		return codes.Internal
	case errors.Is(err, notify.ErrHubClosed):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// FromStatus recovers the domain error behind a status returned by the server.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return err
	}
	var base error
	switch st.Code() {
	case codes.NotFound:
		base = domain.ErrNotFound
	case codes.ResourceExhausted:
		base = domain.ErrUnavailable
	case codes.FailedPrecondition:
		base = domain.ErrAlreadyReturned
	case codes.Aborted:
		base = domain.ErrConflict
	case codes.InvalidArgument:
		base = domain.ErrInvalidInput
	default:
		return err
	}
	return &remoteError{base: base, status: err}
}

// remoteError matches both the domain error and the original status.
type remoteError struct {
	base   error
	status error
}

func (e *remoteError) Error() string {
	return e.status.Error()
}

func (e *remoteError) Unwrap() []error {
	return []error{e.base, e.status}
}
