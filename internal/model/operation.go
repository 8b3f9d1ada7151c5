package model

import (
	"net/http"
	"strings"
	"time"
)

// Method is an HTTP method accepted by the offline queue.
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodPatch  Method = http.MethodPatch
	MethodDelete Method = http.MethodDelete
)

// ParseMethod normalises s and reports whether it is a queueable method.
func ParseMethod(s string) (Method, bool) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
		return m, true
	}
	return m, false
}

// IsWrite reports whether the method mutates remote state.
func (m Method) IsWrite() bool {
	switch m {
	case MethodPost, MethodPut, MethodPatch, MethodDelete:
		return true
	}
	return false
}

// OperationState distinguishes operations still in the retry rotation from
// dead-lettered ones.
type OperationState string

const (
	StateActive OperationState = "active"
	StateDead   OperationState = "dead"
)

// OperationRequest is what callers hand to the queue: the request exactly as
// it should be replayed.
type OperationRequest struct {
	Method  Method            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// Operation is a queued outbound write.
//
// INVARIANTS:
//   - ID is unique and never changes
//   - Tries only increases
//   - NextAttemptAt only moves forward
//   - the record is deleted only after a confirmed 2xx or an operator purge
type Operation struct {
	ID             string            `json:"id"`
	Seq            int64             `json:"seq"`
	Method         Method            `json:"method"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           []byte            `json:"body,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Tries          int               `json:"tries"`
	NextAttemptAt  time.Time         `json:"next_attempt_at"`
	EnqueuedAt     time.Time         `json:"enqueued_at"`
	State          OperationState    `json:"state"`
	LastStatus     int               `json:"last_status,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
}

// Eligible reports whether the operation may be attempted at now.
func (o Operation) Eligible(now time.Time) bool {
	return o.State != StateDead && !o.NextAttemptAt.After(now)
}

// Clone returns a deep copy so callers cannot mutate queue state.
func (o Operation) Clone() Operation {
	c := o
	if o.Headers != nil {
		c.Headers = make(map[string]string, len(o.Headers))
		for k, v := range o.Headers {
			c.Headers[k] = v
		}
	}
	if o.Body != nil {
		c.Body = append([]byte(nil), o.Body...)
	}
	return c
}
