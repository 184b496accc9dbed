package model

import (
	"errors"
	"fmt"
)

// ValidationError rejects a malformed submission before it reaches the queue.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// VenueExecutionError is a simulated liquidity or network failure on a venue.
type VenueExecutionError struct {
	Venue  Venue
	Reason string
}

func (e *VenueExecutionError) Error() string {
	return fmt.Sprintf("execution failed on %s: %s", e.Venue, e.Reason)
}

// PersistenceError wraps a failure of the storage collaborator.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ExhaustedRetriesError is returned once an order used up all of its attempts.
type ExhaustedRetriesError struct {
	OrderID  string
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("order %s failed after %d attempts: %v", e.OrderID, e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Last }

// IsRetryable reports whether err may succeed on a later attempt.
// Only validation failures and exhausted retries are final; transient venue,
// storage, routing and cancellation errors are worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		validation   *ValidationError
		exhaustedErr *ExhaustedRetriesError
	)
	return !errors.As(err, &validation) && !errors.As(err, &exhaustedErr)
}
