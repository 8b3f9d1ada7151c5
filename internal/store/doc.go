// Package store provides durable storage for queued operations, pending
// changes and sync bookkeeping.
//
// Two families of backend implement DurableStore:
//   - SQLStore: a structured, transactional store keyed by operation id
//     (SQLite by default, PostgreSQL and MySQL by DSN scheme)
//   - KVStore: a flat serialized list per collection in a simple key-value
//     store (JSON files, process memory, or Redis)
//
// Open picks one backend at startup: the primary DSN if it can be opened,
// otherwise the fallback. The choice is fixed for the life of the returned
// store; callers never branch on which backend they got.
//
// # Ordering
//
// Operations are returned in ascending seq order (logical enqueue order),
// never by timestamp. Changes are returned in ascending id order; change
// ids are time-ordered sonyflake ids.
//
// # Time
//
// Every timestamp is persisted as Unix milliseconds in UTC. Values read
// back compare equal to model.Normalize of the value written.
//
// # SQLite configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - user_version tracks the schema; newer schemas are refused
package store
