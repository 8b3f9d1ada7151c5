package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/offlinesync/internal/model"
)

// LoadOperations implements OperationStore.
//
// Ordered by seq, then id, so that two databases holding the same records
// return them identically.
func (s *SQLStore) LoadOperations(ctx context.Context) ([]model.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+operationColumns+`
		FROM queued_operations
		ORDER BY seq ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load operations: %w", err)
	}
	defer rows.Close()

	var ops []model.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("load operations: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load operations: %w", err)
	}
	return ops, nil
}

// PutOperation implements OperationStore.
func (s *SQLStore) PutOperation(ctx context.Context, op model.Operation) error {
	headers, err := marshalHeaders(op.Headers)
	if err != nil {
		return fmt.Errorf("put operation %s: %w", op.ID, err)
	}
	state := op.State
	if state == "" {
		state = model.StateActive
	}

	_, err = s.db.ExecContext(ctx, s.dialect.rebind(s.dialect.upsertOperation),
		op.ID,
		op.Seq,
		string(op.Method),
		op.URL,
		headers,
		op.Body,
		op.IdempotencyKey,
		op.Tries,
		model.Millis(op.NextAttemptAt),
		model.Millis(op.EnqueuedAt),
		string(state),
		op.LastStatus,
		op.LastError,
	)
	if err != nil {
		return fmt.Errorf("put operation %s: %w", op.ID, err)
	}
	return nil
}

// DeleteOperation implements OperationStore.
func (s *SQLStore) DeleteOperation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM queued_operations WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete operation %s: %w", id, err)
	}
	return nil
}

func scanOperation(rows *sql.Rows) (model.Operation, error) {
	var (
		op            model.Operation
		method, state string
		headers       string
		nextAttempt   int64
		enqueued      int64
	)
	err := rows.Scan(
		&op.ID,
		&op.Seq,
		&method,
		&op.URL,
		&headers,
		&op.Body,
		&op.IdempotencyKey,
		&op.Tries,
		&nextAttempt,
		&enqueued,
		&state,
		&op.LastStatus,
		&op.LastError,
	)
	if err != nil {
		return model.Operation{}, err
	}
	op.Method = model.Method(method)
	op.State = model.OperationState(state)
	op.NextAttemptAt = model.FromMillis(nextAttempt)
	op.EnqueuedAt = model.FromMillis(enqueued)
	if op.Headers, err = unmarshalHeaders(headers); err != nil {
		return model.Operation{}, fmt.Errorf("operation %s headers: %w", op.ID, err)
	}
	return op, nil
}

// marshalHeaders stores headers as a JSON object; nil becomes "{}".
func marshalHeaders(h map[string]string) (string, error) {
	if len(h) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}
	return string(b), nil
}

func unmarshalHeaders(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var h map[string]string
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return nil, err
	}
	return h, nil
}
