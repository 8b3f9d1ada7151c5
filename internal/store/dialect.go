package store

import (
	"strconv"
	"strings"
)

// dialect captures the SQL differences between backends. Queries are
// written with '?' placeholders and rebound per dialect.
type dialect struct {
	name string
	// ddl is executed statement by statement on open.
	ddl []string
	// upsertOperation / upsertBookkeeping are complete statements.
	upsertOperation   string
	upsertBookkeeping string
	dollarParams      bool
}

func (d dialect) rebind(query string) string {
	if !d.dollarParams {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

const operationColumns = `id, seq, method, url, headers, body, idempotency_key, tries, next_attempt_at, enqueued_at, state, last_status, last_error`

const insertOperation = `INSERT INTO queued_operations (` + operationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const onConflictOperation = `
	ON CONFLICT(id) DO UPDATE SET
		seq = excluded.seq,
		method = excluded.method,
		url = excluded.url,
		headers = excluded.headers,
		body = excluded.body,
		idempotency_key = excluded.idempotency_key,
		tries = excluded.tries,
		next_attempt_at = excluded.next_attempt_at,
		enqueued_at = excluded.enqueued_at,
		state = excluded.state,
		last_status = excluded.last_status,
		last_error = excluded.last_error`

const onDuplicateOperation = `
	ON DUPLICATE KEY UPDATE
		seq = VALUES(seq),
		method = VALUES(method),
		url = VALUES(url),
		headers = VALUES(headers),
		body = VALUES(body),
		idempotency_key = VALUES(idempotency_key),
		tries = VALUES(tries),
		next_attempt_at = VALUES(next_attempt_at),
		enqueued_at = VALUES(enqueued_at),
		state = VALUES(state),
		last_status = VALUES(last_status),
		last_error = VALUES(last_error)`

var sqliteDialect = dialect{
	name:            "sqlite",
	upsertOperation: insertOperation + onConflictOperation,
	upsertBookkeeping: `INSERT INTO sync_bookkeeping (id, last_sync_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_sync_at = excluded.last_sync_at`,
}

var postgresDialect = dialect{
	name: "postgres",
	ddl: []string{
		`CREATE TABLE IF NOT EXISTS queued_operations (
			id              TEXT PRIMARY KEY,
			seq             BIGINT NOT NULL,
			method          TEXT NOT NULL,
			url             TEXT NOT NULL,
			headers         TEXT NOT NULL DEFAULT '{}',
			body            BYTEA,
			idempotency_key TEXT NOT NULL DEFAULT '',
			tries           INTEGER NOT NULL DEFAULT 0,
			next_attempt_at BIGINT NOT NULL,
			enqueued_at     BIGINT NOT NULL,
			state           TEXT NOT NULL DEFAULT 'active',
			last_status     INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queued_operations_seq ON queued_operations(seq)`,
		`CREATE TABLE IF NOT EXISTS pending_changes (
			id          BIGINT PRIMARY KEY,
			resource_id TEXT NOT NULL,
			payload     TEXT NOT NULL,
			ts          BIGINT NOT NULL,
			synced_at   BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_changes_synced_at ON pending_changes(synced_at)`,
		`CREATE TABLE IF NOT EXISTS sync_bookkeeping (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			last_sync_at BIGINT
		)`,
	},
	upsertOperation: insertOperation + onConflictOperation,
	upsertBookkeeping: `INSERT INTO sync_bookkeeping (id, last_sync_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_sync_at = excluded.last_sync_at`,
	dollarParams: true,
}

// MySQL cannot index TEXT keys or use CREATE INDEX IF NOT EXISTS, so
// indexes are declared inline.
var mysqlDialect = dialect{
	name: "mysql",
	ddl: []string{
		`CREATE TABLE IF NOT EXISTS queued_operations (
			id              VARCHAR(64) NOT NULL PRIMARY KEY,
			seq             BIGINT NOT NULL,
			method          VARCHAR(16) NOT NULL,
			url             TEXT NOT NULL,
			headers         TEXT NOT NULL,
			body            LONGBLOB,
			idempotency_key VARCHAR(64) NOT NULL DEFAULT '',
			tries           INT NOT NULL DEFAULT 0,
			next_attempt_at BIGINT NOT NULL,
			enqueued_at     BIGINT NOT NULL,
			state           VARCHAR(16) NOT NULL DEFAULT 'active',
			last_status     INT NOT NULL DEFAULT 0,
			last_error      TEXT NOT NULL,
			INDEX idx_queued_operations_seq (seq)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_changes (
			id          BIGINT NOT NULL PRIMARY KEY,
			resource_id VARCHAR(255) NOT NULL,
			payload     LONGTEXT NOT NULL,
			ts          BIGINT NOT NULL,
			synced_at   BIGINT NULL,
			INDEX idx_pending_changes_synced_at (synced_at)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_bookkeeping (
			id           INT NOT NULL PRIMARY KEY,
			last_sync_at BIGINT NULL
		)`,
	},
	upsertOperation: insertOperation + onDuplicateOperation,
	upsertBookkeeping: `INSERT INTO sync_bookkeeping (id, last_sync_at) VALUES (1, ?)
		ON DUPLICATE KEY UPDATE last_sync_at = VALUES(last_sync_at)`,
}
