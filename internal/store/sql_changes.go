package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/offlinesync/internal/model"
)

// AppendChange implements ChangeStore.
func (s *SQLStore) AppendChange(ctx context.Context, c model.PendingChange) error {
	var synced sql.NullInt64
	if c.SyncedAt != nil {
		synced = sql.NullInt64{Int64: model.Millis(*c.SyncedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO pending_changes (id, resource_id, payload, ts, synced_at)
		VALUES (?, ?, ?, ?, ?)
	`), c.ID, c.ResourceID, string(c.Payload), model.Millis(c.TS), synced)
	if err != nil {
		return fmt.Errorf("append change %d: %w", c.ID, err)
	}
	return nil
}

// PendingChanges implements ChangeStore.
func (s *SQLStore) PendingChanges(ctx context.Context) ([]model.PendingChange, error) {
	return s.queryChanges(ctx, `
		SELECT id, resource_id, payload, ts, synced_at
		FROM pending_changes
		WHERE synced_at IS NULL
		ORDER BY id ASC
	`)
}

// ListChanges implements ChangeStore.
func (s *SQLStore) ListChanges(ctx context.Context) ([]model.PendingChange, error) {
	return s.queryChanges(ctx, `
		SELECT id, resource_id, payload, ts, synced_at
		FROM pending_changes
		ORDER BY id ASC
	`)
}

func (s *SQLStore) queryChanges(ctx context.Context, query string) ([]model.PendingChange, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query))
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var out []model.PendingChange
	for rows.Next() {
		var (
			c       model.PendingChange
			payload string
			ts      int64
			synced  sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.ResourceID, &payload, &ts, &synced); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Payload = []byte(payload)
		c.TS = model.FromMillis(ts)
		if synced.Valid {
			at := model.FromMillis(synced.Int64)
			c.SyncedAt = &at
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	return out, nil
}

// CountPending implements ChangeStore.
func (s *SQLStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_changes WHERE synced_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// MarkSynced implements ChangeStore. All ids are stamped in one
// transaction.
func (s *SQLStore) MarkSynced(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(
		`UPDATE pending_changes SET synced_at = ? WHERE id = ? AND synced_at IS NULL`))
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	defer stmt.Close()

	ms := model.Millis(at)
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, ms, id); err != nil {
			return fmt.Errorf("mark synced %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// LastSyncAt implements ChangeStore. Returns nil before the first
// successful round.
func (s *SQLStore) LastSyncAt(ctx context.Context) (*time.Time, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT last_sync_at FROM sync_bookkeeping WHERE id = 1`).Scan(&ms)
	if err == sql.ErrNoRows || (err == nil && !ms.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last sync at: %w", err)
	}
	at := model.FromMillis(ms.Int64)
	return &at, nil
}

// SetLastSyncAt implements ChangeStore.
func (s *SQLStore) SetLastSyncAt(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(s.dialect.upsertBookkeeping), model.Millis(at))
	if err != nil {
		return fmt.Errorf("set last sync at: %w", err)
	}
	return nil
}
