// Package changesync coordinates domain-level pending changes with a
// remote system of record.
//
// Changes are appended through QueueChange and confirmed in rounds by
// RunSyncNow. A round sends a snapshot of the entries pending at its
// start to the injected SyncHandler; on success exactly those entries are
// stamped with one shared SyncedAt, and anything queued while the round
// was in flight stays pending for the next one. Only one round runs at a
// time; overlapping calls are reported as skipped.
package changesync
