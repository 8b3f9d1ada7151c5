package harness

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/offlinesync/internal/changesync"
	"github.com/roach88/offlinesync/internal/connectivity"
	"github.com/roach88/offlinesync/internal/gateway"
	"github.com/roach88/offlinesync/internal/ident"
	"github.com/roach88/offlinesync/internal/model"
	"github.com/roach88/offlinesync/internal/queue"
	"github.com/roach88/offlinesync/internal/store"
	"github.com/roach88/offlinesync/internal/testutil"
)

// BaseURL is the remote origin scenario paths are resolved against.
const BaseURL = "https://api.offlinesync.test"

// SyncPath is where sync rounds post their batches.
const SyncPath = "/sync/changes"

// Option configures Run.
type Option func(*Harness)

// WithLogger routes component logs to l. Runs are silent by default.
func WithLogger(l *zap.Logger) Option { return func(h *Harness) { h.logger = l } }

// Harness holds one scenario's components.
type Harness struct {
	store   store.DurableStore
	clock   *testutil.ManualClock
	doer    *testutil.StubDoer
	monitor *connectivity.Monitor
	ids     *ident.SequentialGenerator
	keys    *ident.SequentialGenerator
	changes *ident.CounterIDs
	policy  queue.RetryPolicy
	logger  *zap.Logger

	queue   *queue.Queue
	coord   *changesync.Coordinator
	gateway *gateway.Gateway
}

// Run executes a scenario in a fresh in-memory environment. The returned
// error is for scenarios that cannot run; failed expectations and
// assertions are reported in Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	policy, _ := queue.ParseRetryPolicy(scenario.RetryPolicy)
	h := &Harness{
		store:   store.NewKVStore(store.NewMemoryKV(), ""),
		clock:   testutil.NewManualClock(time.Time{}),
		doer:    testutil.NewStubDoer(),
		monitor: connectivity.New(!scenario.StartOffline),
		ids:     ident.NewSequentialGenerator("op"),
		keys:    ident.NewSequentialGenerator("key"),
		changes: &ident.CounterIDs{},
		policy:  policy,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	defer h.close()
	for path, statuses := range scenario.Responses {
		h.doer.Script(path, statuses...)
	}

	ctx := context.Background()
	if err := h.open(ctx); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.execute(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("flow step %d (%s): %w", i+1, step.Do, err)
		}
	}

	state, err := h.finalState(ctx)
	if err != nil {
		return nil, err
	}
	result.State = state

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) open(ctx context.Context) error {
	base, _ := url.Parse(BaseURL)
	q, err := queue.New(ctx, h.store,
		queue.WithClock(h.clock),
		queue.WithIDGenerator(h.ids),
		queue.WithKeyGenerator(h.keys),
		queue.WithRetryPolicy(h.policy),
		queue.WithBaseURL(base),
		queue.WithLogger(h.logger))
	if err != nil {
		return err
	}
	c, err := changesync.New(h.store,
		changesync.WithClock(h.clock),
		changesync.WithIDs(h.changes),
		changesync.WithLogger(h.logger),
		changesync.WithHandler(&changesync.HTTPHandler{Client: h.doer, URL: BaseURL + SyncPath}))
	if err != nil {
		q.Close()
		return err
	}
	h.queue = q
	h.coord = c
	h.gateway = gateway.New(h.monitor, q, h.doer, h.logger)
	return nil
}

func (h *Harness) close() {
	if h.queue != nil {
		h.queue.Close()
	}
	if h.coord != nil {
		h.coord.Close()
	}
	h.monitor.Close()
	_ = h.store.Close()
}

func (h *Harness) elapsed(t time.Time) int64 {
	return t.Sub(testutil.Epoch).Milliseconds()
}

func (h *Harness) now() int64 {
	return h.elapsed(h.clock.Now())
}

func (h *Harness) execute(ctx context.Context, n int, step FlowStep, result *Result) error {
	switch step.Do {
	case StepEnqueue:
		id, err := h.queue.Enqueue(ctx, model.OperationRequest{
			Method:  model.Method(strings.ToUpper(step.Method)),
			URL:     absolute(step.URL),
			Headers: step.Headers,
			Body:    body(step.Body),
		})
		if err != nil {
			return err
		}
		op, err := h.queue.Get(id)
		if err != nil {
			return err
		}
		result.add(TraceEvent{
			Step: n, Type: EventEnqueue, AtMs: h.now(),
			OpID: id, Seq: op.Seq, Method: string(op.Method), Path: pathOf(op.URL),
		})

	case StepRequest:
		resp, err := h.gateway.Execute(ctx, gateway.Request{
			Method:  step.Method,
			URL:     absolute(step.URL),
			Headers: step.Headers,
			Body:    body(step.Body),
		})
		if err != nil {
			return err
		}
		result.add(TraceEvent{
			Step: n, Type: EventRequest, AtMs: h.now(),
			OpID: resp.OperationID, Method: strings.ToUpper(step.Method), Path: pathOf(step.URL),
			Status: resp.Status, Result: string(resp.Kind),
		})
		if e := step.Expect; e != nil && e.Kind != "" && e.Kind != string(resp.Kind) {
			result.AddError(fmt.Sprintf("step %d: expected kind %s, got %s", n, e.Kind, resp.Kind))
		}

	case StepDrain:
		res, err := h.queue.Drain(ctx, h.doer)
		if err != nil {
			return err
		}
		at := h.elapsed(res.StartedAt)
		for _, a := range res.Attempts {
			ev := TraceEvent{
				Step: n, Type: EventAttempt, AtMs: at,
				OpID: a.OperationID, Seq: a.Seq, Method: string(a.Method), Path: pathOf(a.URL),
				Try: a.Try, Status: a.Status, Result: a.Result,
			}
			if a.Result == queue.ResultRetry {
				next := h.elapsed(a.NextAttemptAt)
				ev.NextAttemptMs = &next
			}
			result.add(ev)
		}
		if e := step.Expect; e != nil {
			checkCount(result, n, "delivered", e.Delivered, res.Delivered)
			checkCount(result, n, "failed", e.Failed, res.Failed)
			checkCount(result, n, "dead", e.Dead, res.Dead)
			checkCount(result, n, "deferred", e.Deferred, res.Deferred)
		}

	case StepAdvance:
		d, err := time.ParseDuration(step.By)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		result.add(TraceEvent{Step: n, Type: EventAdvance, AtMs: h.now()})

	case StepOnline, StepOffline:
		online := step.Do == StepOnline
		h.monitor.SetTransportOnline(online)
		effective := h.monitor.IsEffectivelyOnline()
		result.add(TraceEvent{Step: n, Type: EventConnectivity, AtMs: h.now(), Online: &effective})

	case StepForceOffline:
		forced := true
		if step.Value != nil {
			forced = *step.Value
		}
		h.monitor.SetUserOfflineOverride(forced)
		effective := h.monitor.IsEffectivelyOnline()
		result.add(TraceEvent{Step: n, Type: EventConnectivity, AtMs: h.now(), Online: &effective})

	case StepRestart:
		h.queue.Close()
		h.coord.Close()
		if err := h.open(ctx); err != nil {
			return err
		}
		result.add(TraceEvent{Step: n, Type: EventRestart, AtMs: h.now(), Count: h.queue.Size()})

	case StepChange:
		ch, err := h.coord.QueueChange(ctx, step.ResourceID, step.Payload)
		if err != nil {
			return err
		}
		result.add(TraceEvent{
			Step: n, Type: EventChange, AtMs: h.now(),
			ChangeID: ch.ID, ResourceID: ch.ResourceID,
		})

	case StepSync:
		res := h.coord.RunSyncNow(ctx, changesync.SourceManual)
		result.add(TraceEvent{
			Step: n, Type: EventSync, AtMs: h.now(),
			Result: string(res.Outcome), Count: res.Synced,
		})
		if e := step.Expect; e != nil {
			if e.Outcome != "" && e.Outcome != string(res.Outcome) {
				result.AddError(fmt.Sprintf("step %d: expected outcome %s, got %s", n, e.Outcome, res.Outcome))
			}
			checkCount(result, n, "synced", e.Synced, res.Synced)
		}

	default:
		return fmt.Errorf("unknown step %q", step.Do)
	}
	return nil
}

func (h *Harness) finalState(ctx context.Context) (FinalState, error) {
	var s FinalState
	for _, op := range h.queue.Operations() {
		s.QueueDepth++
		if op.State == model.StateDead {
			s.Dead++
		}
	}
	changes, err := h.coord.Changes(ctx)
	if err != nil {
		return s, err
	}
	for _, ch := range changes {
		if ch.Pending() {
			s.PendingChanges++
		} else {
			s.SyncedChanges++
		}
	}
	return s, nil
}

func checkCount(result *Result, step int, name string, want *int, got int) {
	if want != nil && *want != got {
		result.AddError(fmt.Sprintf("step %d: expected %s=%d, got %d", step, name, *want, got))
	}
}

func absolute(target string) string {
	if strings.HasPrefix(target, "/") {
		return BaseURL + target
	}
	return target
}

func pathOf(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Path == "" {
		return target
	}
	return u.Path
}

func body(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}
