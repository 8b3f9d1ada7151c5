package harness

import (
	"fmt"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails. It carries the
// trace for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s", ev.Step, ev.Type)
		if ev.Path != "" {
			fmt.Fprintf(&buf, " %s %s", ev.Method, ev.Path)
		}
		if ev.Result != "" {
			fmt.Fprintf(&buf, " -> %s", ev.Result)
		}
		if ev.Status != 0 {
			fmt.Fprintf(&buf, " (%d)", ev.Status)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertFinalState:
		return assertFinalState(result, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// matches reports whether ev passes a's filter. Empty filter fields match
// anything.
func matches(ev TraceEvent, a Assertion) bool {
	if a.Event != "" && ev.Type != a.Event {
		return false
	}
	if a.Path != "" && ev.Path != a.Path {
		return false
	}
	if a.Result != "" && ev.Result != a.Result {
		return false
	}
	if a.Status != 0 && ev.Status != a.Status {
		return false
	}
	if a.OpID != "" && ev.OpID != a.OpID {
		return false
	}
	return true
}

func describe(a Assertion) string {
	var parts []string
	for _, kv := range [][2]string{
		{"event", a.Event}, {"path", a.Path}, {"result", a.Result}, {"op_id", a.OpID},
	} {
		if kv[1] != "" {
			parts = append(parts, kv[0]+"="+kv[1])
		}
	}
	if a.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", a.Status))
	}
	return strings.Join(parts, " ")
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(a),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matches(ev, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d events matching %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the first matching event for each path
// appears in the listed order. Intervening events are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if !matches(ev, Assertion{Event: a.Event, Result: a.Result, Status: a.Status}) {
			continue
		}
		if _, seen := positions[ev.Path]; !seen {
			positions[ev.Path] = i + 1
		}
	}

	for _, p := range a.Paths {
		if positions[p] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all paths present: %v", a.Paths),
				Actual:   fmt.Sprintf("missing path: %s", p),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Paths); i++ {
		prev, curr := a.Paths[i-1], a.Paths[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("paths in order: %v", a.Paths),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertFinalState(result *Result, a Assertion) error {
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		if got := result.State.field(k); got != a.Expect[k] {
			mismatches = append(mismatches, fmt.Sprintf("%s=%d (want %d)", k, got, a.Expect[k]))
		}
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%v", a.Expect),
			Actual:   strings.Join(mismatches, ", "),
			Trace:    result.Trace,
		}
	}
	return nil
}
