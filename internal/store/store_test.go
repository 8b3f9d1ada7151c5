package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSQLite_Contract(t *testing.T) {
	var path string
	open := func(t *testing.T) DurableStore {
		path = filepath.Join(t.TempDir(), "offlinesync.db")
		s, err := OpenSQLite(path)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}
	reopen := func(t *testing.T) DurableStore {
		s, err := OpenSQLite(path)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}
	runContract(t, open, reopen)
}

func TestFileKV_Contract(t *testing.T) {
	var dir string
	open := func(t *testing.T) DurableStore {
		dir = t.TempDir()
		kv, err := NewFileKV(dir)
		require.NoError(t, err)
		return NewKVStore(kv, "")
	}
	reopen := func(t *testing.T) DurableStore {
		kv, err := NewFileKV(dir)
		require.NoError(t, err)
		return NewKVStore(kv, "")
	}
	runContract(t, open, reopen)
}

func TestMemoryKV_Contract(t *testing.T) {
	open := func(t *testing.T) DurableStore {
		return NewKVStore(NewMemoryKV(), "test")
	}
	runContract(t, open, nil)
}

func TestPostgres_Contract(t *testing.T) {
	dsn := integrationDSN(t, "OFFLINESYNC_TEST_POSTGRES_DSN")
	runContract(t, func(t *testing.T) DurableStore {
		s, err := OpenSQL(context.Background(), dsn)
		require.NoError(t, err)
		truncateAll(t, s.DB())
		t.Cleanup(func() { s.Close() })
		return s
	}, nil)
}

func TestMySQL_Contract(t *testing.T) {
	dsn := integrationDSN(t, "OFFLINESYNC_TEST_MYSQL_DSN")
	runContract(t, func(t *testing.T) DurableStore {
		s, err := OpenSQL(context.Background(), dsn)
		require.NoError(t, err)
		truncateAll(t, s.DB())
		t.Cleanup(func() { s.Close() })
		return s
	}, nil)
}

func TestRedisKV_Contract(t *testing.T) {
	dsn := integrationDSN(t, "OFFLINESYNC_TEST_REDIS_URL")
	n := 0
	runContract(t, func(t *testing.T) DurableStore {
		kv, err := NewRedisKV(context.Background(), dsn)
		require.NoError(t, err)
		n++
		s := NewKVStore(kv, fmt.Sprintf("offlinesync-test-%d-%d", os.Getpid(), n))
		t.Cleanup(func() { s.Close() })
		return s
	}, nil)
}

func integrationDSN(t *testing.T, env string) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv(env))
	if dsn == "" {
		t.Skipf("set %s to run this integration test", env)
	}
	return dsn
}

func truncateAll(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, table := range []string{"queued_operations", "pending_changes", "sync_bookkeeping"} {
		_, err := db.Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}
}

func TestOpenSQLite_Pragmas(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"queued_operations", "pending_changes", "sync_bookkeeping"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q", table)
	}
}

func TestOpenSQLite_RefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 7")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenSQLite(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaTooNew), "got %v", err)
}

func TestOpen_PrimaryPreferred(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), Config{
		PrimaryDSN:  "sqlite://" + filepath.Join(dir, "q.db"),
		FallbackDSN: "file://" + filepath.Join(dir, "kv"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "sqlite", s.Backend())
}

func TestOpen_FallsBackWhenPrimaryUnavailable(t *testing.T) {
	dir := t.TempDir()
	// A directory cannot be opened as a database file.
	s, err := Open(context.Background(), Config{
		PrimaryDSN:  "sqlite://" + dir,
		FallbackDSN: "file://" + filepath.Join(dir, "kv"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "file", s.Backend())
}

func TestOpen_PrimaryFailureWithoutFallback(t *testing.T) {
	_, err := Open(context.Background(), Config{PrimaryDSN: "sqlite://" + t.TempDir()}, nil)
	require.Error(t, err)
}

func TestOpen_DefaultsToMemory(t *testing.T) {
	s, err := Open(context.Background(), Config{}, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "memory", s.Backend())
}

func TestOpen_UnsupportedSchemes(t *testing.T) {
	ctx := context.Background()

	_, err := OpenSQL(ctx, "ftp://example.com/db")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = OpenSQL(ctx, "redis://localhost:6379")
	assert.ErrorIs(t, err, ErrNotImplemented)

	_, err = OpenKV(ctx, "postgres://localhost/db")
	assert.ErrorIs(t, err, ErrNotImplemented)

	_, err = OpenKV(ctx, "s3://bucket")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestDSNPath(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"sqlite:///var/lib/q.db", "/var/lib/q.db"},
		{"sqlite://q.db", "q.db"},
		{"sqlite:q.db", "q.db"},
		{"./data/q.db", "./data/q.db"},
		{"file:///tmp/kv", "/tmp/kv"},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			got, err := dsnPath(tt.dsn)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := dsnPath("")
	assert.ErrorIs(t, err, ErrInvalidDSN)
}

func TestDialect_Rebind(t *testing.T) {
	q := "UPDATE t SET a = ? WHERE id = ? AND b = ?"
	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t, q, mysqlDialect.rebind(q))
	assert.Equal(t, "UPDATE t SET a = $1 WHERE id = $2 AND b = $3", postgresDialect.rebind(q))
}

func TestKVStore_KeysAreNamespaced(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := NewKVStore(kv, "app")

	require.NoError(t, s.PutOperation(ctx, testOperation("a", 1)))
	require.NoError(t, s.AppendChange(ctx, testChange(1, "job-1")))
	require.NoError(t, s.SetLastSyncAt(ctx, base))

	for _, key := range []string{"app:operations", "app:changes", "app:bookkeeping"} {
		_, ok, err := kv.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "missing key %s", key)
	}
}

func TestKVStore_WriteFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := NewKVStore(kv, "")
	kv.FailWrites(errors.New("disk full"))

	err := s.PutOperation(ctx, testOperation("a", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
