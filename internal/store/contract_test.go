package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offlinesync/internal/model"
)

var base = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func testOperation(id string, seq int64) model.Operation {
	return model.Operation{
		ID:             id,
		Seq:            seq,
		Method:         model.MethodPost,
		URL:            "/jobs/" + id,
		Headers:        map[string]string{"Content-Type": "application/json"},
		Body:           []byte(`{"n":1}`),
		IdempotencyKey: "key-" + id,
		NextAttemptAt:  base,
		EnqueuedAt:     base,
		State:          model.StateActive,
	}
}

func testChange(id int64, resource string) model.PendingChange {
	return model.PendingChange{
		ID:         id,
		ResourceID: resource,
		Payload:    json.RawMessage(`{"status":"done"}`),
		TS:         base.Add(time.Duration(id) * time.Second),
	}
}

// runContract exercises every DurableStore method. open must return a
// fresh, empty store; reopen must return a new handle onto the same data
// (or nil when the backend cannot survive a reopen).
func runContract(t *testing.T, open func(t *testing.T) DurableStore, reopen func(t *testing.T) DurableStore) {
	t.Run("OperationsOrderedBySeq", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		require.NoError(t, s.PutOperation(ctx, testOperation("c", 3)))
		require.NoError(t, s.PutOperation(ctx, testOperation("a", 1)))
		require.NoError(t, s.PutOperation(ctx, testOperation("b", 2)))

		ops, err := s.LoadOperations(ctx)
		require.NoError(t, err)
		require.Len(t, ops, 3)
		assert.Equal(t, "a", ops[0].ID)
		assert.Equal(t, "b", ops[1].ID)
		assert.Equal(t, "c", ops[2].ID)
	})

	t.Run("PutReplacesByID", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		op := testOperation("a", 1)
		require.NoError(t, s.PutOperation(ctx, op))

		op.Tries = 2
		op.NextAttemptAt = base.Add(5 * time.Second)
		op.LastStatus = 503
		op.LastError = "status 503"
		require.NoError(t, s.PutOperation(ctx, op))

		ops, err := s.LoadOperations(ctx)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		got := ops[0]
		assert.Equal(t, 2, got.Tries)
		assert.True(t, got.NextAttemptAt.Equal(base.Add(5*time.Second)))
		assert.Equal(t, 503, got.LastStatus)
		assert.Equal(t, "status 503", got.LastError)
	})

	t.Run("RoundTripsAllFields", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		op := testOperation("x", 9)
		op.NextAttemptAt = base.Add(1234567 * time.Microsecond)
		op.State = model.StateDead
		require.NoError(t, s.PutOperation(ctx, op))

		ops, err := s.LoadOperations(ctx)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		got := ops[0]
		assert.Equal(t, op.ID, got.ID)
		assert.Equal(t, op.Seq, got.Seq)
		assert.Equal(t, op.Method, got.Method)
		assert.Equal(t, op.URL, got.URL)
		assert.Equal(t, op.Headers, got.Headers)
		assert.Equal(t, op.Body, got.Body)
		assert.Equal(t, op.IdempotencyKey, got.IdempotencyKey)
		assert.Equal(t, model.StateDead, got.State)
		// millisecond precision
		assert.True(t, got.NextAttemptAt.Equal(model.Normalize(op.NextAttemptAt)),
			"got %v", got.NextAttemptAt)
		assert.True(t, got.EnqueuedAt.Equal(base))
	})

	t.Run("DeleteOperation", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		require.NoError(t, s.PutOperation(ctx, testOperation("a", 1)))
		require.NoError(t, s.PutOperation(ctx, testOperation("b", 2)))
		require.NoError(t, s.DeleteOperation(ctx, "a"))
		require.NoError(t, s.DeleteOperation(ctx, "missing"))

		ops, err := s.LoadOperations(ctx)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, "b", ops[0].ID)
	})

	t.Run("ChangesPendingAndSynced", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		for i, r := range []string{"job-1", "job-2", "job-3"} {
			require.NoError(t, s.AppendChange(ctx, testChange(int64(i+1), r)))
		}

		n, err := s.CountPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		at := base.Add(time.Minute)
		require.NoError(t, s.MarkSynced(ctx, []int64{1, 3}, at))

		pending, err := s.PendingChanges(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, int64(2), pending[0].ID)
		assert.JSONEq(t, `{"status":"done"}`, string(pending[0].Payload))

		all, err := s.ListChanges(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.NotNil(t, all[0].SyncedAt)
		assert.True(t, all[0].SyncedAt.Equal(at))
		assert.Nil(t, all[1].SyncedAt)
		require.NotNil(t, all[2].SyncedAt)
		assert.True(t, all[2].SyncedAt.Equal(at))
	})

	t.Run("MarkSyncedKeepsFirstStamp", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		require.NoError(t, s.AppendChange(ctx, testChange(1, "job-1")))
		first := base.Add(time.Minute)
		require.NoError(t, s.MarkSynced(ctx, []int64{1}, first))
		require.NoError(t, s.MarkSynced(ctx, []int64{1}, first.Add(time.Hour)))
		require.NoError(t, s.MarkSynced(ctx, nil, first))

		all, err := s.ListChanges(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.True(t, all[0].SyncedAt.Equal(first))
	})

	t.Run("Bookkeeping", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		last, err := s.LastSyncAt(ctx)
		require.NoError(t, err)
		assert.Nil(t, last)

		require.NoError(t, s.SetLastSyncAt(ctx, base))
		require.NoError(t, s.SetLastSyncAt(ctx, base.Add(time.Hour)))

		last, err = s.LastSyncAt(ctx)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, last.Equal(base.Add(time.Hour)))
	})

	if reopen == nil {
		return
	}

	t.Run("SurvivesReopen", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.PutOperation(ctx, testOperation("a", 1)))
		require.NoError(t, s.AppendChange(ctx, testChange(1, "job-1")))
		require.NoError(t, s.SetLastSyncAt(ctx, base))
		require.NoError(t, s.Close())

		s2 := reopen(t)
		ops, err := s2.LoadOperations(ctx)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, "a", ops[0].ID)

		n, err := s2.CountPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		last, err := s2.LastSyncAt(ctx)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, last.Equal(base))
	})
}
