package changesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/offlinesync/internal/clock"
	"github.com/roach88/offlinesync/internal/event"
	"github.com/roach88/offlinesync/internal/ident"
	"github.com/roach88/offlinesync/internal/metrics"
	"github.com/roach88/offlinesync/internal/model"
	"github.com/roach88/offlinesync/internal/store"
)

// ErrInvalidChange is returned by QueueChange for an empty resource id or
// a payload that cannot be encoded as JSON.
var ErrInvalidChange = errors.New("changesync: invalid change")

// SyncHandler delivers a batch of pending changes to the remote side.
// Returning nil confirms every entry in the batch.
type SyncHandler interface {
	Sync(ctx context.Context, changes []model.PendingChange) error
}

// HandlerFunc adapts a function to SyncHandler.
type HandlerFunc func(ctx context.Context, changes []model.PendingChange) error

func (f HandlerFunc) Sync(ctx context.Context, changes []model.PendingChange) error {
	return f(ctx, changes)
}

// State of the round state machine.
type State string

const (
	Idle    State = "idle"
	Syncing State = "syncing"
)

// Outcome of RunSyncNow.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
	Skipped   Outcome = "skipped"
)

// Source says what asked for a round.
type Source string

const (
	SourceManual    Source = "manual"
	SourceReconnect Source = "reconnect"
	SourceTimer     Source = "timer"
	SourceAgent     Source = "agent"
)

// SyncResult reports one RunSyncNow call.
type SyncResult struct {
	Outcome Outcome
	Source  Source
	// Synced is the number of entries confirmed by this round.
	Synced   int
	SyncedAt *time.Time
	Err      error
}

// EventType names a coordinator notification.
type EventType string

const (
	EventPendingChanged EventType = "pending_changed"
	EventSyncStarted    EventType = "sync_started"
	EventSyncSucceeded  EventType = "sync_succeeded"
	EventSyncFailed     EventType = "sync_failed"
	EventSyncSkipped    EventType = "sync_skipped"
)

// Event is published on pending-count changes and round transitions.
type Event struct {
	Type    EventType
	Pending int
	Result  SyncResult
}

// Coordinator owns pending changes and the sync bookkeeping record.
type Coordinator struct {
	store   store.ChangeStore
	handler SyncHandler
	clock   clock.Clock
	ids     ident.ChangeIDs
	logger  *zap.Logger
	bus     *event.Bus[Event]

	mu    sync.Mutex
	state State
	// backlog holds entries whose write failed; retried on the next call.
	backlog []model.PendingChange
	// inflight lists backlog ids in the running round's snapshot. They
	// stay in memory until the round stamps or releases them.
	inflight map[int64]struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithClock(c clock.Clock) Option     { return func(s *Coordinator) { s.clock = c } }
func WithIDs(ids ident.ChangeIDs) Option { return func(s *Coordinator) { s.ids = ids } }
func WithLogger(l *zap.Logger) Option    { return func(s *Coordinator) { s.logger = l } }
func WithHandler(h SyncHandler) Option   { return func(s *Coordinator) { s.handler = h } }

// New creates an idle coordinator. Without WithIDs, ids come from a
// sonyflake generator with machine id 1.
func New(st store.ChangeStore, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		store: st,
		clock: clock.System{},
		state: Idle,
		bus:   event.NewBus[Event](),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.ids == nil {
		ids, err := ident.NewFlakeIDs(1)
		if err != nil {
			return nil, err
		}
		c.ids = ids
	}
	return c, nil
}

// SetHandler replaces the sync handler. Used at startup when the handler
// depends on components built after the coordinator.
func (c *Coordinator) SetHandler(h SyncHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// QueueChange records a pending change. payload is encoded as JSON;
// json.RawMessage and []byte holding valid JSON pass through unchanged.
//
// A store write failure is logged and the entry is held in memory until a
// later call manages to write it.
func (c *Coordinator) QueueChange(ctx context.Context, resourceID string, payload any) (model.PendingChange, error) {
	rid := norm.NFC.String(strings.TrimSpace(resourceID))
	if rid == "" {
		return model.PendingChange{}, fmt.Errorf("%w: empty resource id", ErrInvalidChange)
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return model.PendingChange{}, fmt.Errorf("%w: %v", ErrInvalidChange, err)
	}
	id, err := c.ids.NextID()
	if err != nil {
		return model.PendingChange{}, err
	}

	change := model.PendingChange{
		ID:         id,
		ResourceID: rid,
		Payload:    raw,
		TS:         model.Normalize(c.clock.Now()),
	}

	c.mu.Lock()
	c.flushBacklogLocked(ctx)
	if err := c.store.AppendChange(ctx, change); err != nil {
		metrics.PersistErrors.WithLabelValues("changesync").Inc()
		c.logger.Warn("persist change failed; keeping in memory",
			zap.Int64("change_id", change.ID),
			zap.String("resource_id", rid),
			zap.Error(err))
		c.backlog = append(c.backlog, change)
	}
	c.mu.Unlock()

	c.logger.Debug("change queued",
		zap.Int64("change_id", change.ID),
		zap.String("resource_id", rid))
	c.publishPending(ctx)
	return change, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return append(json.RawMessage(nil), p...), nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return append(json.RawMessage(nil), p...), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RunSyncNow runs one round. It never returns an error directly; the
// outcome and any failure are in the result.
func (c *Coordinator) RunSyncNow(ctx context.Context, source Source) SyncResult {
	if source == "" {
		source = SourceManual
	}

	c.mu.Lock()
	if c.state == Syncing {
		c.mu.Unlock()
		res := SyncResult{Outcome: Skipped, Source: source}
		metrics.SyncRounds.WithLabelValues(string(Skipped)).Inc()
		c.logger.Debug("sync skipped; round in flight", zap.String("source", string(source)))
		c.bus.Publish(Event{Type: EventSyncSkipped, Result: res})
		return res
	}
	c.state = Syncing
	c.flushBacklogLocked(ctx)
	handler := c.handler
	backlog := pendingOf(c.backlog)
	c.inflight = make(map[int64]struct{}, len(backlog))
	for _, ch := range backlog {
		c.inflight[ch.ID] = struct{}{}
	}
	c.mu.Unlock()

	res := c.round(ctx, source, handler, backlog)

	c.mu.Lock()
	c.state = Idle
	c.inflight = nil
	c.mu.Unlock()

	metrics.SyncRounds.WithLabelValues(string(res.Outcome)).Inc()
	switch res.Outcome {
	case Succeeded:
		c.bus.Publish(Event{Type: EventSyncSucceeded, Result: res})
		if res.Synced > 0 {
			c.publishPending(ctx)
		}
	case Failed:
		c.bus.Publish(Event{Type: EventSyncFailed, Result: res})
	}
	return res
}

func (c *Coordinator) round(ctx context.Context, source Source, handler SyncHandler, backlog []model.PendingChange) SyncResult {
	stored, err := c.store.PendingChanges(ctx)
	if err != nil {
		c.logger.Warn("sync aborted: read pending changes", zap.Error(err))
		return SyncResult{Outcome: Failed, Source: source, Err: fmt.Errorf("read pending changes: %w", err)}
	}
	snapshot := make([]model.PendingChange, 0, len(stored)+len(backlog))
	snapshot = append(append(snapshot, stored...), backlog...)
	sortChanges(snapshot)

	if len(snapshot) == 0 {
		return SyncResult{Outcome: Succeeded, Source: source}
	}
	if handler == nil {
		return SyncResult{Outcome: Failed, Source: source, Err: errors.New("no sync handler configured")}
	}

	c.bus.Publish(Event{Type: EventSyncStarted, Pending: len(snapshot), Result: SyncResult{Source: source}})
	c.logger.Info("sync started",
		zap.String("source", string(source)),
		zap.Int("changes", len(snapshot)))

	if err := callHandler(ctx, handler, cloneChanges(snapshot)); err != nil {
		c.logger.Warn("sync failed",
			zap.String("source", string(source)),
			zap.Int("changes", len(snapshot)),
			zap.Error(err))
		return SyncResult{Outcome: Failed, Source: source, Err: err}
	}

	// The remote side has confirmed; stamping must not be abandoned.
	ctx = context.WithoutCancel(ctx)
	at := model.Normalize(c.clock.Now())

	storedIDs := make([]int64, len(stored))
	for i, ch := range stored {
		storedIDs[i] = ch.ID
	}
	if err := c.store.MarkSynced(ctx, storedIDs, at); err != nil {
		metrics.PersistErrors.WithLabelValues("changesync").Inc()
		c.logger.Error("mark synced failed; changes will be resent",
			zap.Int("changes", len(storedIDs)),
			zap.Error(err))
		return SyncResult{Outcome: Failed, Source: source, Err: fmt.Errorf("mark synced: %w", err)}
	}
	if len(backlog) > 0 {
		c.stampBacklog(backlog, at)
	}
	if err := c.store.SetLastSyncAt(ctx, at); err != nil {
		metrics.PersistErrors.WithLabelValues("changesync").Inc()
		c.logger.Warn("record last sync time failed", zap.Error(err))
	}

	c.logger.Info("sync succeeded",
		zap.String("source", string(source)),
		zap.Int("changes", len(snapshot)))
	return SyncResult{Outcome: Succeeded, Source: source, Synced: len(snapshot), SyncedAt: &at}
}

func callHandler(ctx context.Context, h SyncHandler, changes []model.PendingChange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync handler panic: %v", r)
		}
	}()
	return h.Sync(ctx, changes)
}

// stampBacklog marks in-memory entries as synced. They are written with
// their stamp when the store accepts them.
func (c *Coordinator) stampBacklog(included []model.PendingChange, at time.Time) {
	ids := make(map[int64]struct{}, len(included))
	for _, ch := range included {
		ids[ch.ID] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.backlog {
		if _, ok := ids[c.backlog[i].ID]; ok && c.backlog[i].SyncedAt == nil {
			t := at
			c.backlog[i].SyncedAt = &t
		}
	}
}

func (c *Coordinator) flushBacklogLocked(ctx context.Context) {
	if len(c.backlog) == 0 {
		return
	}
	kept := c.backlog[:0]
	for _, ch := range c.backlog {
		if _, busy := c.inflight[ch.ID]; busy {
			kept = append(kept, ch)
			continue
		}
		if err := c.store.AppendChange(ctx, ch); err != nil {
			kept = append(kept, ch)
		}
	}
	if n := len(c.backlog) - len(kept); n > 0 {
		c.logger.Info("flushed change backlog", zap.Int("written", n), zap.Int("remaining", len(kept)))
	}
	c.backlog = kept
}

// PendingCount returns the number of unsynced entries, read from the
// store on every call.
func (c *Coordinator) PendingCount(ctx context.Context) (int, error) {
	n, err := c.store.CountPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	c.mu.Lock()
	n += len(pendingOf(c.backlog))
	c.mu.Unlock()
	return n, nil
}

// LastSyncAt returns the time of the last successful round with work, or
// nil if there has been none.
func (c *Coordinator) LastSyncAt(ctx context.Context) (*time.Time, error) {
	return c.store.LastSyncAt(ctx)
}

// Changes returns every entry, synced or not, in id order.
func (c *Coordinator) Changes(ctx context.Context) ([]model.PendingChange, error) {
	all, err := c.store.ListChanges(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	all = append(all, cloneChanges(c.backlog)...)
	c.mu.Unlock()
	sortChanges(all)
	return all, nil
}

// State returns Idle or Syncing.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a subscription to coordinator events.
func (c *Coordinator) Subscribe() *event.Subscription[Event] {
	return c.bus.Subscribe()
}

// Close ends every subscription.
func (c *Coordinator) Close() {
	c.bus.Close()
}

func (c *Coordinator) publishPending(ctx context.Context) {
	n, err := c.PendingCount(ctx)
	if err != nil {
		c.logger.Warn("count pending failed", zap.Error(err))
		return
	}
	metrics.PendingChanges.Set(float64(n))
	c.bus.Publish(Event{Type: EventPendingChanged, Pending: n})
}

func pendingOf(cs []model.PendingChange) []model.PendingChange {
	var out []model.PendingChange
	for _, ch := range cs {
		if ch.Pending() {
			out = append(out, ch)
		}
	}
	return out
}

func cloneChanges(cs []model.PendingChange) []model.PendingChange {
	out := make([]model.PendingChange, len(cs))
	for i, ch := range cs {
		out[i] = ch
		out[i].Payload = append(json.RawMessage(nil), ch.Payload...)
		if ch.SyncedAt != nil {
			t := *ch.SyncedAt
			out[i].SyncedAt = &t
		}
	}
	return out
}

func sortChanges(cs []model.PendingChange) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
}
