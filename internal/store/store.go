package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/offlinesync/internal/model"
)

var (
	// ErrUnsupportedScheme is returned for a DSN scheme no backend handles.
	ErrUnsupportedScheme = errors.New("store: unsupported dsn scheme")
	// ErrNotImplemented is returned for a scheme that is known but not
	// offered for the requested role (e.g. a SQL database as KV fallback).
	ErrNotImplemented = errors.New("store: not implemented")
	// ErrInvalidDSN is returned for an empty or malformed DSN.
	ErrInvalidDSN = errors.New("store: invalid dsn")
	// ErrSchemaTooNew is returned when a database was written by a newer
	// release.
	ErrSchemaTooNew = errors.New("store: schema version is newer than supported")
)

// OperationStore persists queued operations. Owned by queue.Queue.
type OperationStore interface {
	// LoadOperations returns every persisted operation in seq order.
	LoadOperations(ctx context.Context) ([]model.Operation, error)
	// PutOperation inserts or replaces the record with op.ID.
	PutOperation(ctx context.Context, op model.Operation) error
	// DeleteOperation removes the record. Deleting a missing id is not an
	// error.
	DeleteOperation(ctx context.Context, id string) error
}

// ChangeStore persists pending changes and the sync bookkeeping record.
// Owned by changesync.Coordinator.
type ChangeStore interface {
	AppendChange(ctx context.Context, c model.PendingChange) error
	// PendingChanges returns entries with no SyncedAt, in id order.
	PendingChanges(ctx context.Context) ([]model.PendingChange, error)
	// ListChanges returns every entry, synced or not, in id order.
	ListChanges(ctx context.Context) ([]model.PendingChange, error)
	CountPending(ctx context.Context) (int, error)
	// MarkSynced stamps the given ids with at. Entries already synced keep
	// their original stamp.
	MarkSynced(ctx context.Context, ids []int64, at time.Time) error
	LastSyncAt(ctx context.Context) (*time.Time, error)
	SetLastSyncAt(ctx context.Context, at time.Time) error
}

// DurableStore is the single persistence port. Both collections live in
// the same backend but never share a table or key.
type DurableStore interface {
	OperationStore
	ChangeStore
	// Backend names the implementation ("sqlite", "postgres", "mysql",
	// "file", "memory", "redis").
	Backend() string
	Close() error
}

// Config selects the backend.
type Config struct {
	// PrimaryDSN names the structured store, e.g. "sqlite:///var/lib/offlinesync.db",
	// "postgres://user@host/db", "mysql://user:pw@tcp(host:3306)/db".
	PrimaryDSN string
	// FallbackDSN names the flat KV store: "file:///dir", "memory://",
	// "redis://host:6379/0".
	FallbackDSN string
	// KeyPrefix namespaces KV keys. Defaults to "offlinesync".
	KeyPrefix string
}

// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "offlinesync"

// Open selects and opens the backend once.
//
// The primary is tried first. If it cannot be opened and a fallback is
// configured, the failure is logged and the fallback is used instead.
// With neither configured, an in-memory store is returned.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (DurableStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	primary := strings.TrimSpace(cfg.PrimaryDSN)
	fallback := strings.TrimSpace(cfg.FallbackDSN)

	var primaryErr error
	if primary != "" {
		s, err := OpenSQL(ctx, primary)
		if err == nil {
			logger.Info("store opened", zap.String("backend", s.Backend()))
			return s, nil
		}
		if fallback == "" {
			return nil, fmt.Errorf("open primary store: %w", err)
		}
		primaryErr = err
		logger.Warn("primary store unavailable, using fallback",
			zap.String("backend", dsnScheme(primary)),
			zap.Error(err))
	}

	if fallback == "" {
		fallback = "memory://"
	}
	kv, err := OpenKV(ctx, fallback)
	if err != nil {
		if primaryErr != nil {
			return nil, fmt.Errorf("open fallback store: %w (primary: %v)", err, primaryErr)
		}
		return nil, fmt.Errorf("open fallback store: %w", err)
	}
	s := NewKVStore(kv, cfg.KeyPrefix)
	logger.Info("store opened", zap.String("backend", s.Backend()))
	return s, nil
}

// dsnScheme returns the lower-cased scheme, or "" for a bare path.
func dsnScheme(dsn string) string {
	if i := strings.Index(dsn, "://"); i > 0 {
		return strings.ToLower(dsn[:i])
	}
	// "sqlite:data.db" but not "C:\data.db" or "./a:b"
	if j := strings.Index(dsn, ":"); j > 1 && !strings.ContainsAny(dsn[:j], `/\.`) {
		return strings.ToLower(dsn[:j])
	}
	return ""
}

// dsnPath extracts a filesystem path from "scheme://path", "scheme:path"
// or a bare path.
func dsnPath(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	scheme := dsnScheme(dsn)
	if scheme == "" {
		if dsn == "" {
			return "", ErrInvalidDSN
		}
		return dsn, nil
	}
	rest := strings.TrimPrefix(dsn[len(scheme):], ":")
	if strings.HasPrefix(rest, "//") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidDSN, err)
		}
		path := parsed.Host + parsed.Path
		if path == "" {
			return "", ErrInvalidDSN
		}
		return path, nil
	}
	if rest == "" {
		return "", ErrInvalidDSN
	}
	return rest, nil
}
