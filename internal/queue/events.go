package queue

import "github.com/roach88/offlinesync/internal/model"

// EventType names a queue state change.
type EventType string

const (
	EventEnqueued       EventType = "enqueued"
	EventDelivered      EventType = "delivered"
	EventRetryScheduled EventType = "retry_scheduled"
	EventDeadLettered   EventType = "dead_lettered"
	EventPurged         EventType = "purged"
	EventRevived        EventType = "revived"
)

// Event is published on every change to the set of queued operations.
// Operation is a copy taken after the change was applied.
type Event struct {
	Type      EventType
	Operation model.Operation
	// Status is the response status for delivery outcomes, 0 otherwise.
	Status int
	// Err is the attempt failure for retry and dead-letter events.
	Err error
}
