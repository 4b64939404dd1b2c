package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a journal entry does not exist.
	ErrNotFound = errors.New("journal entry not found")
	// ErrForbidden is returned when the entry belongs to another user.
	ErrForbidden = errors.New("journal entry not owned by caller")
	// ErrInvalidArgument marks malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTimeout is returned when the request deadline elapses before every
	// sibling read completed.
	ErrTimeout = errors.New("query deadline exceeded")
	// ErrUpstreamUnavailable wraps backing store failures.
	ErrUpstreamUnavailable = errors.New("activity store unavailable")
)

// classifyStoreError maps a raw store error into the service taxonomy.
func classifyStoreError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrUpstreamUnavailable),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden), errors.Is(err, ErrInvalidArgument):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
}
