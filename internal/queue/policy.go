package queue

import "net/http"

// RetryPolicy decides what a failed attempt means for an operation.
type RetryPolicy int

const (
	// RetryAlways reschedules every failure, whatever the status.
	RetryAlways RetryPolicy = iota
	// DeadLetterClientErrors moves an operation to the dead state when the
	// server answers 4xx, except 408 and 429 which stay retryable.
	// Transport errors and 5xx are always retried.
	DeadLetterClientErrors
)

// ParseRetryPolicy accepts "retry_always" and "dead_letter_client_errors".
// Empty input means RetryAlways.
func ParseRetryPolicy(s string) (RetryPolicy, bool) {
	switch s {
	case "", "retry_always":
		return RetryAlways, true
	case "dead_letter_client_errors":
		return DeadLetterClientErrors, true
	}
	return RetryAlways, false
}

func (p RetryPolicy) String() string {
	switch p {
	case DeadLetterClientErrors:
		return "dead_letter_client_errors"
	default:
		return "retry_always"
	}
}

// terminal reports whether a response status ends retries under p.
// status 0 means no response was received.
func (p RetryPolicy) terminal(status int) bool {
	if p != DeadLetterClientErrors {
		return false
	}
	if status < 400 || status >= 500 {
		return false
	}
	return status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
}
