package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/offlinesync/internal/metrics"
	"github.com/roach88/offlinesync/internal/model"
)

// IdempotencyHeader carries Operation.IdempotencyKey on every replay
// unless the caller already set it.
const IdempotencyHeader = "Idempotency-Key"

// maxDrainedBody limits how much of a response body is read before close.
const maxDrainedBody = 64 << 10

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Attempt is the outcome of one replayed operation within a pass.
type Attempt struct {
	OperationID string
	Seq         int64
	Method      model.Method
	URL         string
	// Try is the attempt number, starting at 1.
	Try    int
	Status int
	// Result is "delivered", "retry" or "dead".
	Result string
	// NextAttemptAt is set for "retry".
	NextAttemptAt time.Time
	Err           error
}

// Attempt results.
const (
	ResultDelivered = "delivered"
	ResultRetry     = "retry"
	ResultDead      = "dead"
)

// DrainResult summarizes one pass.
type DrainResult struct {
	StartedAt time.Time
	// Attempts lists eligible operations in the order they were tried.
	Attempts []Attempt
	// Deferred counts operations skipped because they were not yet due
	// or are dead-lettered.
	Deferred  int
	Delivered int
	Failed    int
	Dead      int
}

// Drain replays every eligible operation once, in seq order.
//
// The pass works on a snapshot taken at its start and runs to completion:
// cancellation of ctx does not stop it, but every call carries the
// per-request timeout. Concurrent calls queue behind each other. A pass
// with nothing eligible makes no network calls.
func (q *Queue) Drain(ctx context.Context, client Doer) (DrainResult, error) {
	if client == nil {
		return DrainResult{}, ErrNoClient
	}
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	ctx = context.WithoutCancel(ctx)
	start := model.Normalize(q.clock.Now())

	q.mu.Lock()
	var due []model.Operation
	for _, op := range q.ops {
		if op.Eligible(start) {
			due = append(due, op.Clone())
		}
	}
	total := len(q.ops)
	q.mu.Unlock()

	metrics.DrainPasses.Inc()
	result := DrainResult{StartedAt: start, Deferred: total - len(due)}
	if len(due) == 0 {
		return result, nil
	}

	q.logger.Debug("drain started",
		zap.Int("eligible", len(due)),
		zap.Int("deferred", result.Deferred))

	for _, op := range due {
		status, err := q.attempt(ctx, client, op)
		a := Attempt{
			OperationID: op.ID,
			Seq:         op.Seq,
			Method:      op.Method,
			URL:         op.URL,
			Try:         op.Tries + 1,
			Status:      status,
			Err:         err,
		}
		if err == nil {
			q.complete(ctx, op, status)
			a.Result = ResultDelivered
			result.Delivered++
		} else if updated, dead := q.fail(ctx, op, status, err); dead {
			a.Result = ResultDead
			result.Dead++
		} else {
			a.Result = ResultRetry
			a.NextAttemptAt = updated.NextAttemptAt
			result.Failed++
		}
		result.Attempts = append(result.Attempts, a)
	}

	q.logger.Info("drain finished",
		zap.Int("delivered", result.Delivered),
		zap.Int("failed", result.Failed),
		zap.Int("dead", result.Dead),
		zap.Int("deferred", result.Deferred))
	return result, nil
}

// attempt performs one HTTP call for op and returns the status received
// (0 if none) and a *DeliveryError for anything but 2xx.
func (q *Queue) attempt(ctx context.Context, client Doer, op model.Operation) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	var body io.Reader
	if op.Body != nil {
		body = bytes.NewReader(op.Body)
	}
	req, err := http.NewRequestWithContext(ctx, string(op.Method), q.resolve(op.URL), body)
	if err != nil {
		return 0, &DeliveryError{Err: fmt.Errorf("build request: %w", err)}
	}
	for k, v := range op.Headers {
		req.Header.Set(k, v)
	}
	if op.IdempotencyKey != "" && req.Header.Get(IdempotencyHeader) == "" {
		req.Header.Set(IdempotencyHeader, op.IdempotencyKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, &DeliveryError{Err: err}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainedBody))
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, &DeliveryError{Status: resp.StatusCode}
}

func (q *Queue) resolve(target string) string { return ResolveURL(q.baseURL, target) }

// ResolveURL resolves a relative target against base. Absolute or
// unparsable targets, and any target when base is nil, come back as is.
func ResolveURL(base *url.URL, target string) string {
	if base == nil {
		return target
	}
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() {
		return target
	}
	return base.ResolveReference(u).String()
}

// complete removes a delivered operation from the mirror and the store.
func (q *Queue) complete(ctx context.Context, op model.Operation, status int) {
	q.mu.Lock()
	i := q.indexLocked(op.ID)
	if i >= 0 {
		q.ops = append(q.ops[:i], q.ops[i+1:]...)
	}
	depth := len(q.ops)
	q.deleteLocked(ctx, op.ID)
	q.mu.Unlock()

	metrics.Delivered.Inc()
	metrics.QueueDepth.Set(float64(depth))
	q.logger.Debug("operation delivered",
		zap.String("op_id", op.ID),
		zap.Int("status", status),
		zap.Int("tries", op.Tries))
	q.events.Publish(Event{Type: EventDelivered, Operation: op, Status: status})
}

// fail records a failed attempt. It reports the updated operation and
// whether it was dead-lettered. An operation purged while its call was in
// flight is left deleted.
func (q *Queue) fail(ctx context.Context, op model.Operation, status int, err error) (model.Operation, bool) {
	cause := "status"
	if status == 0 {
		cause = "transport"
	}
	metrics.AttemptsFailed.WithLabelValues(cause).Inc()

	q.mu.Lock()
	i := q.indexLocked(op.ID)
	if i < 0 {
		q.mu.Unlock()
		return op, false
	}
	cur := q.ops[i]
	cur.Tries++
	cur.LastStatus = status
	cur.LastError = err.Error()

	dead := q.policy.terminal(status)
	if dead {
		cur.State = model.StateDead
	} else {
		now := model.Normalize(q.clock.Now())
		next := now.Add(q.backoff.Delay(cur.Tries))
		if floor := cur.NextAttemptAt.Add(time.Millisecond); next.Before(floor) {
			next = floor
		}
		cur.NextAttemptAt = next
	}
	q.ops[i] = cur
	q.persistLocked(ctx, cur)
	q.mu.Unlock()

	if dead {
		metrics.DeadLettered.Inc()
		q.logger.Warn("operation dead-lettered",
			zap.String("op_id", cur.ID),
			zap.Int("status", status),
			zap.Int("tries", cur.Tries))
		q.events.Publish(Event{Type: EventDeadLettered, Operation: cur.Clone(), Status: status, Err: err})
		return cur, true
	}

	q.logger.Debug("operation retry scheduled",
		zap.String("op_id", cur.ID),
		zap.Int("tries", cur.Tries),
		zap.Time("next_attempt_at", cur.NextAttemptAt),
		zap.Error(err))
	q.events.Publish(Event{Type: EventRetryScheduled, Operation: cur.Clone(), Status: status, Err: err})
	return cur, false
}
