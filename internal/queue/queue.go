package queue

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/offlinesync/internal/clock"
	"github.com/roach88/offlinesync/internal/event"
	"github.com/roach88/offlinesync/internal/ident"
	"github.com/roach88/offlinesync/internal/metrics"
	"github.com/roach88/offlinesync/internal/model"
	"github.com/roach88/offlinesync/internal/store"
)

// DefaultRequestTimeout bounds each replayed HTTP call.
const DefaultRequestTimeout = 15 * time.Second

// WorkNotifier is told when new work was enqueued. Implemented by
// agent.Bridge; calls must not block for long and never fail.
type WorkNotifier interface {
	NotifyWorkAvailable(ctx context.Context)
}

// Queue is the durable outbound write queue. Construct with New.
type Queue struct {
	store    store.OperationStore
	clock    clock.Clock
	seq      *clock.Sequence
	ids      ident.Generator
	keys     ident.Generator
	backoff  Backoff
	policy   RetryPolicy
	notifier WorkNotifier
	logger   *zap.Logger
	baseURL  *url.URL
	timeout  time.Duration
	events   *event.Bus[Event]

	mu  sync.Mutex
	ops []model.Operation // seq order

	drainMu sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the wall clock used for scheduling.
func WithClock(c clock.Clock) Option { return func(q *Queue) { q.clock = c } }

// WithIDGenerator sets the operation id source.
func WithIDGenerator(g ident.Generator) Option { return func(q *Queue) { q.ids = g } }

// WithKeyGenerator sets the idempotency key source.
func WithKeyGenerator(g ident.Generator) Option { return func(q *Queue) { q.keys = g } }

// WithBackoff replaces DefaultBackoff. Tables that decrease are ignored.
func WithBackoff(b Backoff) Option {
	return func(q *Queue) {
		if len(b) > 0 && b.valid() {
			q.backoff = b
		}
	}
}

// WithRetryPolicy sets how failures are classified.
func WithRetryPolicy(p RetryPolicy) Option { return func(q *Queue) { q.policy = p } }

// WithNotifier sets the component told about newly enqueued work.
func WithNotifier(n WorkNotifier) Option { return func(q *Queue) { q.notifier = n } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(q *Queue) { q.logger = l } }

// WithBaseURL resolves relative operation URLs against base at replay.
func WithBaseURL(base *url.URL) Option { return func(q *Queue) { q.baseURL = base } }

// WithRequestTimeout bounds each replayed call. Non-positive values are
// ignored.
func WithRequestTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

type keyGenerator struct{}

func (keyGenerator) Generate() string { return ident.NewIdempotencyKey() }

// New loads every persisted operation and returns a ready queue.
// The logical sequence resumes after the highest persisted seq.
func New(ctx context.Context, st store.OperationStore, opts ...Option) (*Queue, error) {
	q := &Queue{
		store:   st,
		clock:   clock.System{},
		ids:     ident.UUIDv7Generator{},
		keys:    keyGenerator{},
		backoff: DefaultBackoff,
		policy:  RetryAlways,
		timeout: DefaultRequestTimeout,
		events:  event.NewBus[Event](),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}

	ops, err := st.LoadOperations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	var maxSeq int64
	for _, op := range ops {
		if op.Seq > maxSeq {
			maxSeq = op.Seq
		}
	}
	q.ops = ops
	q.seq = clock.NewSequenceAt(maxSeq)
	metrics.QueueDepth.Set(float64(len(ops)))

	q.logger.Debug("queue loaded",
		zap.Int("operations", len(ops)),
		zap.Int64("seq", maxSeq))
	return q, nil
}

// Enqueue validates req, records it durably and returns the new
// operation id. The only errors are validation errors; a store failure
// is logged and the operation is kept in memory.
func (q *Queue) Enqueue(ctx context.Context, req model.OperationRequest) (string, error) {
	method, ok := model.ParseMethod(string(req.Method))
	if !ok {
		return "", fmt.Errorf("%w: method %q", ErrInvalidOperation, req.Method)
	}
	target := strings.TrimSpace(req.URL)
	if target == "" {
		return "", fmt.Errorf("%w: empty url", ErrInvalidOperation)
	}
	if _, err := url.Parse(target); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	now := model.Normalize(q.clock.Now())
	op := model.Operation{
		ID:             q.ids.Generate(),
		Method:         method,
		URL:            target,
		IdempotencyKey: q.keys.Generate(),
		Tries:          0,
		NextAttemptAt:  now,
		EnqueuedAt:     now,
		State:          model.StateActive,
	}
	if len(req.Headers) > 0 {
		op.Headers = make(map[string]string, len(req.Headers))
		for k, v := range req.Headers {
			op.Headers[k] = v
		}
	}
	if req.Body != nil {
		op.Body = append([]byte(nil), req.Body...)
	}

	q.mu.Lock()
	op.Seq = q.seq.Next()
	q.ops = append(q.ops, op)
	depth := len(q.ops)
	q.persistLocked(ctx, op)
	q.mu.Unlock()

	metrics.Enqueued.Inc()
	metrics.QueueDepth.Set(float64(depth))
	q.logger.Debug("operation enqueued",
		zap.String("op_id", op.ID),
		zap.String("method", string(op.Method)),
		zap.String("url", op.URL),
		zap.Int64("seq", op.Seq))

	q.events.Publish(Event{Type: EventEnqueued, Operation: op.Clone()})
	if q.notifier != nil {
		q.notifier.NotifyWorkAvailable(ctx)
	}
	return op.ID, nil
}

// Size returns the number of held operations, dead ones included.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Operations returns copies of every operation in seq order.
func (q *Queue) Operations() []model.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.Operation, len(q.ops))
	for i, op := range q.ops {
		out[i] = op.Clone()
	}
	return out
}

// Get returns a copy of the operation with id.
func (q *Queue) Get(id string) (model.Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(id)
	if i < 0 {
		return model.Operation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return q.ops[i].Clone(), nil
}

// NextAttemptAt returns the earliest NextAttemptAt over active
// operations, and false when none are active.
func (q *Queue) NextAttemptAt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var next time.Time
	found := false
	for _, op := range q.ops {
		if op.State == model.StateDead {
			continue
		}
		if !found || op.NextAttemptAt.Before(next) {
			next = op.NextAttemptAt
			found = true
		}
	}
	return next, found
}

// Purge removes an operation without delivering it. This is the only way
// besides a 2xx response for a record to leave the store.
func (q *Queue) Purge(ctx context.Context, id string) error {
	q.mu.Lock()
	i := q.indexLocked(id)
	if i < 0 {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	op := q.ops[i]
	q.ops = append(q.ops[:i], q.ops[i+1:]...)
	depth := len(q.ops)
	q.deleteLocked(ctx, id)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	q.logger.Info("operation purged", zap.String("op_id", id))
	q.events.Publish(Event{Type: EventPurged, Operation: op.Clone()})
	return nil
}

// Revive returns a dead-lettered operation to the active rotation,
// eligible immediately. Tries is kept.
func (q *Queue) Revive(ctx context.Context, id string) (model.Operation, error) {
	q.mu.Lock()
	i := q.indexLocked(id)
	if i < 0 {
		q.mu.Unlock()
		return model.Operation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if q.ops[i].State != model.StateDead {
		q.mu.Unlock()
		return model.Operation{}, fmt.Errorf("%w: %s", ErrNotDead, id)
	}
	op := q.ops[i]
	op.State = model.StateActive
	now := model.Normalize(q.clock.Now())
	if now.After(op.NextAttemptAt) {
		op.NextAttemptAt = now
	}
	q.ops[i] = op
	q.persistLocked(ctx, op)
	q.mu.Unlock()

	q.logger.Info("operation revived", zap.String("op_id", id))
	q.events.Publish(Event{Type: EventRevived, Operation: op.Clone()})
	return op.Clone(), nil
}

// Subscribe returns a subscription to queue events. Close it when done.
func (q *Queue) Subscribe() *event.Subscription[Event] {
	return q.events.Subscribe()
}

// Close closes every event subscription. The store is owned by the
// caller and is not closed.
func (q *Queue) Close() {
	q.events.Close()
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.ops {
		if q.ops[i].ID == id {
			return i
		}
	}
	return -1
}

// persistLocked writes op and absorbs any failure.
func (q *Queue) persistLocked(ctx context.Context, op model.Operation) {
	if err := q.store.PutOperation(ctx, op); err != nil {
		metrics.PersistErrors.WithLabelValues("queue").Inc()
		q.logger.Warn("persist operation failed; keeping in memory",
			zap.String("op_id", op.ID),
			zap.Error(err))
	}
}

func (q *Queue) deleteLocked(ctx context.Context, id string) {
	if err := q.store.DeleteOperation(ctx, id); err != nil {
		metrics.PersistErrors.WithLabelValues("queue").Inc()
		q.logger.Warn("delete operation failed",
			zap.String("op_id", id),
			zap.Error(err))
	}
}
