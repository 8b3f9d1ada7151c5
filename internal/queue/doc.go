// Package queue implements the durable outbound write queue.
//
// A Queue accepts HTTP write operations while the client is offline,
// persists them through a store.OperationStore, and replays them in
// enqueue order when Drain is called. Delivery is at-least-once: an
// operation is removed only after a 2xx response. Every failed attempt
// increments Tries and pushes NextAttemptAt strictly forward according to
// a fixed Backoff table.
//
// # Concurrency
//
// The queue keeps an in-memory mirror of every operation guarded by mu;
// store writes for operations happen while mu is held so the mirror and
// the store never disagree about which records exist. Drain passes are
// serialized by drainMu and work on a snapshot taken at the start of the
// pass, so Enqueue may run concurrently with a drain. Network calls are
// made without holding mu.
//
// # Persistence failures
//
// A failed store write is logged and counted, never returned from
// Enqueue or Drain. The mirror keeps the operation for the life of the
// process.
package queue
