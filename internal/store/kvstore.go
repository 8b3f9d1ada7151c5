package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/offlinesync/internal/model"
)

// KVStore is the flat fallback backend: each collection is one serialized
// list under its own key, rewritten in full on every mutation.
type KVStore struct {
	kv     KV
	prefix string
	mu     sync.Mutex
}

var _ DurableStore = (*KVStore)(nil)

type kvOperations struct {
	Items []model.Operation `json:"items"`
}

type kvChanges struct {
	Items []model.PendingChange `json:"items"`
}

// NewKVStore wraps kv. An empty prefix means DefaultKeyPrefix.
func NewKVStore(kv KV, prefix string) *KVStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &KVStore{kv: kv, prefix: prefix}
}

func (s *KVStore) key(name string) string { return s.prefix + ":" + name }

// Backend implements DurableStore.
func (s *KVStore) Backend() string { return s.kv.Name() }

// Close implements DurableStore.
func (s *KVStore) Close() error { return s.kv.Close() }

func (s *KVStore) read(ctx context.Context, name string, v any) error {
	data, ok, err := s.kv.Get(ctx, s.key(name))
	if err != nil {
		return fmt.Errorf("read %s: %w", s.key(name), err)
	}
	if !ok || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", s.key(name), err)
	}
	return nil
}

func (s *KVStore) write(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.key(name), err)
	}
	if err := s.kv.Set(ctx, s.key(name), data); err != nil {
		return fmt.Errorf("write %s: %w", s.key(name), err)
	}
	return nil
}

// LoadOperations implements OperationStore.
func (s *KVStore) LoadOperations(ctx context.Context) ([]model.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list kvOperations
	if err := s.read(ctx, "operations", &list); err != nil {
		return nil, fmt.Errorf("load operations: %w", err)
	}
	sortOperations(list.Items)
	return list.Items, nil
}

// PutOperation implements OperationStore.
func (s *KVStore) PutOperation(ctx context.Context, op model.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list kvOperations
	if err := s.read(ctx, "operations", &list); err != nil {
		return fmt.Errorf("put operation %s: %w", op.ID, err)
	}
	op = normalizeOperation(op)
	replaced := false
	for i := range list.Items {
		if list.Items[i].ID == op.ID {
			list.Items[i] = op
			replaced = true
			break
		}
	}
	if !replaced {
		list.Items = append(list.Items, op)
	}
	sortOperations(list.Items)
	if err := s.write(ctx, "operations", list); err != nil {
		return fmt.Errorf("put operation %s: %w", op.ID, err)
	}
	return nil
}

// DeleteOperation implements OperationStore.
func (s *KVStore) DeleteOperation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list kvOperations
	if err := s.read(ctx, "operations", &list); err != nil {
		return fmt.Errorf("delete operation %s: %w", id, err)
	}
	kept := list.Items[:0]
	for _, op := range list.Items {
		if op.ID != id {
			kept = append(kept, op)
		}
	}
	if len(kept) == len(list.Items) {
		return nil
	}
	list.Items = kept
	if err := s.write(ctx, "operations", list); err != nil {
		return fmt.Errorf("delete operation %s: %w", id, err)
	}
	return nil
}

// AppendChange implements ChangeStore.
func (s *KVStore) AppendChange(ctx context.Context, c model.PendingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list kvChanges
	if err := s.read(ctx, "changes", &list); err != nil {
		return fmt.Errorf("append change %d: %w", c.ID, err)
	}
	for _, existing := range list.Items {
		if existing.ID == c.ID {
			return fmt.Errorf("append change %d: duplicate id", c.ID)
		}
	}
	c.TS = model.Normalize(c.TS)
	if c.SyncedAt != nil {
		at := model.Normalize(*c.SyncedAt)
		c.SyncedAt = &at
	}
	list.Items = append(list.Items, c)
	sortChanges(list.Items)
	if err := s.write(ctx, "changes", list); err != nil {
		return fmt.Errorf("append change %d: %w", c.ID, err)
	}
	return nil
}

// PendingChanges implements ChangeStore.
func (s *KVStore) PendingChanges(ctx context.Context) ([]model.PendingChange, error) {
	all, err := s.ListChanges(ctx)
	if err != nil {
		return nil, err
	}
	var pending []model.PendingChange
	for _, c := range all {
		if c.Pending() {
			pending = append(pending, c)
		}
	}
	return pending, nil
}

// ListChanges implements ChangeStore.
func (s *KVStore) ListChanges(ctx context.Context) ([]model.PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list kvChanges
	if err := s.read(ctx, "changes", &list); err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	sortChanges(list.Items)
	return list.Items, nil
}

// CountPending implements ChangeStore.
func (s *KVStore) CountPending(ctx context.Context) (int, error) {
	pending, err := s.PendingChanges(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// MarkSynced implements ChangeStore.
func (s *KVStore) MarkSynced(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var list kvChanges
	if err := s.read(ctx, "changes", &list); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	stamp := model.Normalize(at)
	for i := range list.Items {
		if _, ok := want[list.Items[i].ID]; ok && list.Items[i].SyncedAt == nil {
			t := stamp
			list.Items[i].SyncedAt = &t
		}
	}
	if err := s.write(ctx, "changes", list); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// LastSyncAt implements ChangeStore.
func (s *KVStore) LastSyncAt(ctx context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b model.SyncBookkeeping
	if err := s.read(ctx, "bookkeeping", &b); err != nil {
		return nil, fmt.Errorf("last sync at: %w", err)
	}
	return b.LastSyncAt, nil
}

// SetLastSyncAt implements ChangeStore.
func (s *KVStore) SetLastSyncAt(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	at = model.Normalize(at)
	if err := s.write(ctx, "bookkeeping", model.SyncBookkeeping{LastSyncAt: &at}); err != nil {
		return fmt.Errorf("set last sync at: %w", err)
	}
	return nil
}

func normalizeOperation(op model.Operation) model.Operation {
	op.NextAttemptAt = model.Normalize(op.NextAttemptAt)
	op.EnqueuedAt = model.Normalize(op.EnqueuedAt)
	if op.State == "" {
		op.State = model.StateActive
	}
	return op
}

func sortOperations(ops []model.Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Seq != ops[j].Seq {
			return ops[i].Seq < ops[j].Seq
		}
		return ops[i].ID < ops[j].ID
	})
}

func sortChanges(cs []model.PendingChange) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
}
