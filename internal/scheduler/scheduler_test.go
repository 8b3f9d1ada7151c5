package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/offlinesync/internal/agent"
	"github.com/roach88/offlinesync/internal/changesync"
	"github.com/roach88/offlinesync/internal/connectivity"
	"github.com/roach88/offlinesync/internal/queue"
)

type fakeDrainer struct {
	calls chan struct{}
}

func (d *fakeDrainer) Drain(context.Context, queue.Doer) (queue.DrainResult, error) {
	select {
	case d.calls <- struct{}{}:
	default:
	}
	return queue.DrainResult{}, nil
}

type fakeSyncer struct {
	mu      sync.Mutex
	sources []changesync.Source
	calls   chan changesync.Source
}

func (s *fakeSyncer) RunSyncNow(_ context.Context, source changesync.Source) changesync.SyncResult {
	s.mu.Lock()
	s.sources = append(s.sources, source)
	s.mu.Unlock()
	select {
	case s.calls <- source:
	default:
	}
	return changesync.SyncResult{Outcome: changesync.Succeeded, Source: source}
}

type harness struct {
	sched  *Scheduler
	drains chan struct{}
	syncs  chan changesync.Source
	mon    *connectivity.Monitor
	bridge *agent.Bridge
}

func newHarness(t *testing.T, online bool, opts Options) *harness {
	t.Helper()
	h := &harness{
		drains: make(chan struct{}, 16),
		syncs:  make(chan changesync.Source, 16),
		mon:    connectivity.New(online),
		bridge: agent.NewBridge(nil, zaptest.NewLogger(t)),
	}
	if opts.DrainInterval == 0 {
		opts.DrainInterval = -1
	}
	if opts.SyncInterval == 0 {
		opts.SyncInterval = -1
	}
	h.sched = New(Deps{
		Queue:  &fakeDrainer{calls: h.drains},
		Sync:   &fakeSyncer{calls: h.syncs},
		Conn:   h.mon,
		Agent:  h.bridge,
		Logger: zaptest.NewLogger(t),
	}, opts)
	t.Cleanup(h.mon.Close)
	return h
}

func waitDrain(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a drain")
	}
}

func waitSync(t *testing.T, ch <-chan changesync.Source) changesync.Source {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("expected a sync round")
		return ""
	}
}

func assertQuiet(t *testing.T, drains <-chan struct{}) {
	t.Helper()
	select {
	case <-drains:
		t.Fatal("unexpected drain")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStart_DrainsLeftoverWork(t *testing.T) {
	h := newHarness(t, true, Options{})
	h.sched.Start(context.Background())
	defer h.sched.Stop()

	waitDrain(t, h.drains)
}

func TestReconnect_DrainsAndSyncs(t *testing.T) {
	h := newHarness(t, false, Options{})
	h.sched.Start(context.Background())
	defer h.sched.Stop()

	// initial trigger is skipped while offline
	assertQuiet(t, h.drains)

	h.mon.SetTransportOnline(true)
	waitDrain(t, h.drains)
	assert.Equal(t, changesync.SourceReconnect, waitSync(t, h.syncs))
}

func TestTriggers_SkippedWhileUserForcedOffline(t *testing.T) {
	h := newHarness(t, true, Options{})
	h.mon.SetUserOfflineOverride(true)
	h.sched.Start(context.Background())
	defer h.sched.Stop()

	h.sched.TriggerDrain()
	h.sched.TriggerSync()
	assertQuiet(t, h.drains)
	assert.Empty(t, h.syncs)
}

func TestAgentMessages(t *testing.T) {
	h := newHarness(t, true, Options{})
	h.sched.Start(context.Background())
	defer h.sched.Stop()
	waitDrain(t, h.drains)

	h.bridge.Deliver(context.Background(), agent.Message{Kind: agent.KindDrain})
	waitDrain(t, h.drains)

	h.bridge.Deliver(context.Background(), agent.Message{Kind: agent.KindSync})
	assert.Equal(t, changesync.SourceAgent, waitSync(t, h.syncs))
}

func TestTriggerSync_Manual(t *testing.T) {
	h := newHarness(t, true, Options{})
	h.sched.Start(context.Background())
	defer h.sched.Stop()

	h.sched.TriggerSync()
	assert.Equal(t, changesync.SourceManual, waitSync(t, h.syncs))
}

func TestPeriodicTicks(t *testing.T) {
	h := newHarness(t, true, Options{DrainInterval: 10 * time.Millisecond, SyncInterval: 10 * time.Millisecond})
	h.sched.Start(context.Background())
	defer h.sched.Stop()

	for i := 0; i < 3; i++ {
		waitDrain(t, h.drains)
	}
	assert.Equal(t, changesync.SourceTimer, waitSync(t, h.syncs))
}

func TestTriggerDrain_Coalesces(t *testing.T) {
	h := newHarness(t, true, Options{})
	// not started: requests pile into the size-one channel
	h.sched.TriggerDrain()
	h.sched.TriggerDrain()
	h.sched.TriggerDrain()
	assert.Len(t, h.sched.drainCh, 1)
}

func TestStop_Idempotent(t *testing.T) {
	h := newHarness(t, true, Options{})
	h.sched.Start(context.Background())
	waitDrain(t, h.drains)
	h.sched.Stop()
	h.sched.Stop()

	// handler is unregistered; delivering must not block or drain
	h.bridge.Deliver(context.Background(), agent.Message{Kind: agent.KindDrain})
	assertQuiet(t, h.drains)

	// restart after stop is a no-op
	h.sched.Start(context.Background())
	assertQuiet(t, h.drains)
}

func TestStart_CancelledContextEndsLoop(t *testing.T) {
	h := newHarness(t, true, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	h.sched.Start(ctx)
	waitDrain(t, h.drains)
	cancel()

	done := make(chan struct{})
	go func() {
		h.sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung")
	}
	require.NotNil(t, h.sched.sub)
}
