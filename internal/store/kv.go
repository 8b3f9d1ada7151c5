package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// KV is the minimal key-value surface the fallback store needs.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
	Name() string
}

// OpenKV opens the fallback key-value store named by dsn.
//
// Supported schemes: file (or a bare directory path), memory/mem/inmem,
// redis/rediss.
func OpenKV(ctx context.Context, dsn string) (KV, error) {
	switch scheme := dsnScheme(dsn); scheme {
	case "", "file":
		dir, err := dsnPath(dsn)
		if err != nil {
			return nil, err
		}
		return NewFileKV(dir)
	case "memory", "mem", "inmem":
		return NewMemoryKV(), nil
	case "redis", "rediss":
		return NewRedisKV(ctx, dsn)
	case "sqlite", "sqlite3", "postgres", "postgresql", "mysql":
		return nil, fmt.Errorf("%w: %s as fallback store", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}

// FileKV stores each key as a JSON file in a directory. Writes go to a
// temporary file that is renamed over the target.
type FileKV struct {
	dir string
	mu  sync.Mutex
}

// NewFileKV creates the directory if needed.
func NewFileKV(dir string) (*FileKV, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidDSN
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file kv: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

func (f *FileKV) path(key string) string {
	name := strings.NewReplacer(":", "_", "/", "_", `\`, "_").Replace(key)
	return filepath.Join(f.dir, name+".json")
}

func (f *FileKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (f *FileKV) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := f.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *FileKV) Close() error { return nil }
func (f *FileKV) Name() string { return "file" }

// MemoryKV keeps values in process memory. Nothing survives a restart.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string][]byte
	// failSet makes every Set fail; tests use it to simulate an unwritable
	// store.
	failSet error
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// FailWrites makes subsequent Set calls return err; nil restores writes.
func (m *MemoryKV) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSet = err
}

func (m *MemoryKV) Close() error { return nil }
func (m *MemoryKV) Name() string { return "memory" }

// RedisKV stores values as plain Redis strings without expiry.
type RedisKV struct {
	cli *redis.Client
}

// NewRedisKV parses a redis:// URL and verifies the server answers.
func NewRedisKV(ctx context.Context, dsn string) (*RedisKV, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}
	cli := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()
	if err := cli.Ping(pingCtx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("redis kv: %w", err)
	}
	return &RedisKV{cli: cli}, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.cli.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	return r.cli.Set(ctx, key, value, 0).Err()
}

func (r *RedisKV) Close() error { return r.cli.Close() }
func (r *RedisKV) Name() string { return "redis" }
