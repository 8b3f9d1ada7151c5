// Package scheduler runs the queue and the change coordinator in the
// background: it drains when connectivity returns, when the background
// agent asks, on explicit triggers, and periodically while online, and it
// starts sync rounds on reconnect and on a timer.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/offlinesync/internal/agent"
	"github.com/roach88/offlinesync/internal/changesync"
	"github.com/roach88/offlinesync/internal/connectivity"
	"github.com/roach88/offlinesync/internal/event"
	"github.com/roach88/offlinesync/internal/queue"
)

const (
	DefaultDrainInterval = 30 * time.Second
	DefaultSyncInterval  = 15 * time.Minute
)

// Drainer is the part of queue.Queue the scheduler needs.
type Drainer interface {
	Drain(ctx context.Context, client queue.Doer) (queue.DrainResult, error)
}

// Syncer is the part of changesync.Coordinator the scheduler needs.
type Syncer interface {
	RunSyncNow(ctx context.Context, source changesync.Source) changesync.SyncResult
}

// Connectivity is the part of connectivity.Monitor the scheduler needs.
type Connectivity interface {
	IsEffectivelyOnline() bool
	Subscribe() *event.Subscription[connectivity.Change]
}

// AgentSource is the part of agent.Bridge the scheduler needs.
type AgentSource interface {
	OnAgentMessage(h agent.Handler) (unregister func())
}

// Deps are the collaborators. Sync and Agent are optional.
type Deps struct {
	Queue  Drainer
	Client queue.Doer
	Sync   Syncer
	Conn   Connectivity
	Agent  AgentSource
	Logger *zap.Logger
}

// Options tune the periodic work. Zero means the default; a negative
// interval disables that timer.
type Options struct {
	DrainInterval time.Duration
	SyncInterval  time.Duration
}

// Scheduler drives background drains and sync rounds.
type Scheduler struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	drainCh chan string
	syncCh  chan changesync.Source
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu         sync.Mutex
	running    bool
	stopped    bool
	sub        *event.Subscription[connectivity.Change]
	unregister func()
}

// New creates a Scheduler. Call Start to run it.
func New(deps Deps, opts Options) *Scheduler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.DrainInterval == 0 {
		opts.DrainInterval = DefaultDrainInterval
	}
	if opts.SyncInterval == 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	return &Scheduler{
		deps:    deps,
		opts:    opts,
		logger:  deps.Logger,
		drainCh: make(chan string, 1),
		syncCh:  make(chan changesync.Source, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the background loop. It is a no-op when already running
// or after Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.sub = s.deps.Conn.Subscribe()
	if s.deps.Agent != nil {
		s.unregister = s.deps.Agent.OnAgentMessage(s.onAgentMessage)
	}
	sub := s.sub
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, sub)

	s.logger.Info("scheduler started",
		zap.Duration("drain_interval", s.opts.DrainInterval),
		zap.Duration("sync_interval", s.opts.SyncInterval))

	// work left over from a previous run
	s.TriggerDrain()
}

// Stop ends the loop and waits for in-flight drains and sync rounds.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopped = true
	if s.unregister != nil {
		s.unregister()
	}
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.sub.Close()
	s.logger.Info("scheduler stopped")
}

// TriggerDrain requests a drain. Requests made while one is pending
// coalesce.
func (s *Scheduler) TriggerDrain() { s.requestDrain("trigger") }

// TriggerSync requests a sync round.
func (s *Scheduler) TriggerSync() { s.requestSync(changesync.SourceManual) }

func (s *Scheduler) requestDrain(reason string) {
	select {
	case s.drainCh <- reason:
	default:
	}
}

func (s *Scheduler) requestSync(source changesync.Source) {
	select {
	case s.syncCh <- source:
	default:
	}
}

func (s *Scheduler) onAgentMessage(_ context.Context, msg agent.Message) {
	switch msg.Kind {
	case agent.KindSync:
		s.requestSync(changesync.SourceAgent)
	default:
		s.requestDrain("agent")
	}
}

func (s *Scheduler) loop(ctx context.Context, sub *event.Subscription[connectivity.Change]) {
	defer s.wg.Done()

	drainTick := newTicker(s.opts.DrainInterval)
	defer drainTick.stop()
	syncTick := newTicker(s.opts.SyncInterval)
	defer syncTick.stop()

	changes := sub.C
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case ch, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if ch.Online {
				s.logger.Info("connectivity restored")
				s.drain(ctx, "reconnect")
				s.startSync(ctx, changesync.SourceReconnect)
			} else {
				s.logger.Info("connectivity lost")
			}
		case reason := <-s.drainCh:
			s.drain(ctx, reason)
		case source := <-s.syncCh:
			s.startSync(ctx, source)
		case <-drainTick.c:
			s.drain(ctx, "timer")
		case <-syncTick.c:
			s.startSync(ctx, changesync.SourceTimer)
		}
	}
}

func (s *Scheduler) drain(ctx context.Context, reason string) {
	if !s.deps.Conn.IsEffectivelyOnline() {
		s.logger.Debug("drain skipped while offline", zap.String("reason", reason))
		return
	}
	res, err := s.deps.Queue.Drain(ctx, s.deps.Client)
	if err != nil {
		s.logger.Warn("drain failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	if len(res.Attempts) > 0 {
		s.logger.Debug("drain finished",
			zap.String("reason", reason),
			zap.Int("delivered", res.Delivered),
			zap.Int("failed", res.Failed),
			zap.Int("dead", res.Dead),
			zap.Int("deferred", res.Deferred))
	}
}

func (s *Scheduler) startSync(ctx context.Context, source changesync.Source) {
	if s.deps.Sync == nil {
		return
	}
	if !s.deps.Conn.IsEffectivelyOnline() {
		s.logger.Debug("sync skipped while offline", zap.String("source", string(source)))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.deps.Sync.RunSyncNow(ctx, source)
		if res.Err != nil {
			s.logger.Warn("sync round failed", zap.String("source", string(source)), zap.Error(res.Err))
		}
	}()
}

// ticker is a time.Ticker that may be disabled.
type ticker struct {
	t *time.Ticker
	c <-chan time.Time
}

func newTicker(d time.Duration) ticker {
	if d <= 0 {
		return ticker{}
	}
	t := time.NewTicker(d)
	return ticker{t: t, c: t.C}
}

func (t ticker) stop() {
	if t.t != nil {
		t.t.Stop()
	}
}
