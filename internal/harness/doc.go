// Package harness replays scripted offline scenarios against the real
// queue, gateway and change coordinator and records a deterministic trace.
//
// # Scenario Format
//
//	name: three_op_retry
//	description: "What this scenario validates"
//	start_offline: true
//	retry_policy: retry_always
//	responses:
//	  /jobs/2: [500, 500, 200] # status per call, last repeats; 0 = transport error
//	flow:
//	  - do: enqueue
//	    method: PUT
//	    url: /jobs/1
//	    body: '{"n":1}'
//	  - do: online
//	  - do: drain
//	    expect: { delivered: 2, failed: 1 }
//	  - do: advance
//	    by: 2s
//	assertions:
//	  - type: trace_order
//	    event: attempt
//	    result: delivered
//	    paths: [/jobs/1, /jobs/3, /jobs/2]
//	  - type: final_state
//	    expect: { queue_depth: 0 }
//
// # Steps
//
//   - enqueue: put a write straight into the queue
//   - request: route a call through the gateway
//   - drain: one drain pass
//   - advance: move the clock forward by a duration
//   - online, offline: flip transport connectivity
//   - force_offline: set the user override (value defaults to true)
//   - restart: reopen the queue and coordinator over the same store
//   - change: queue a pending change
//   - sync: run one sync round against /sync/changes
//
// # Assertion Types
//
//   - trace_contains: an event matching the filter exists
//   - trace_count: exactly count events match the filter
//   - trace_order: the first matching events for paths appear in order
//   - final_state: queue_depth, dead, pending_changes, synced_changes
//
// # Deterministic Testing
//
// Every run uses a manual clock starting at testutil.Epoch, sequential
// operation ids (op-1, op-2, ...), counter change ids and an in-memory
// store. Idempotency keys are not part of the trace. Identical scenarios
// therefore produce byte-identical traces, which RunWithGolden compares
// against testdata/golden/<name>.golden.
package harness
