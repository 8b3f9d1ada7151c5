package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOperation is returned by Enqueue for an unsupported method,
	// an empty URL, or a URL that does not parse.
	ErrInvalidOperation = errors.New("queue: invalid operation")
	// ErrNotFound is returned when an operation id is not in the queue.
	ErrNotFound = errors.New("queue: operation not found")
	// ErrNoClient is returned by Drain when called with a nil Doer.
	ErrNoClient = errors.New("queue: nil http client")
	// ErrNotDead is returned by Revive for an operation that is still active.
	ErrNotDead = errors.New("queue: operation is not dead-lettered")
)

// DeliveryError records why one attempt failed. Status is 0 when no
// response was received.
type DeliveryError struct {
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		if e.Status != 0 {
			return fmt.Sprintf("status %d: %v", e.Status, e.Err)
		}
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("status %d", e.Status)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Transport reports whether the attempt never reached the server.
func (e *DeliveryError) Transport() bool { return e.Status == 0 }
