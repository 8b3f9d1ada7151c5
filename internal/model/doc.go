// Package model provides the durable record types shared by the offline
// queue, the change coordinator and the storage backends.
//
// This package contains type definitions and small helpers only. All other
// internal packages may import model; model imports nothing internal.
//
// Key design constraints:
//   - All timestamps are UTC with millisecond precision (see Millis/FromMillis)
//   - JSON tags use snake_case
//   - Ordering of queued operations uses Seq (logical clock), not wall time
package model
