package harness

// Trace event types.
const (
	EventEnqueue      = "enqueue"
	EventRequest      = "request"
	EventAttempt      = "attempt"
	EventAdvance      = "advance"
	EventConnectivity = "connectivity"
	EventRestart      = "restart"
	EventChange       = "change"
	EventSync         = "sync"
)

// TraceEvent is one observable effect of a step. Field order is the
// golden file order.
type TraceEvent struct {
	Step int    `json:"step"`
	Type string `json:"type"`
	// AtMs is the clock reading, in ms since the scenario started.
	AtMs   int64  `json:"at_ms"`
	OpID   string `json:"op_id,omitempty"`
	Seq    int64  `json:"seq,omitempty"`
	Method string `json:"method,omitempty"`
	Path   string `json:"path,omitempty"`
	Try    int    `json:"try,omitempty"`
	Status int    `json:"status,omitempty"`
	// Result is the attempt result, the gateway kind or the sync outcome.
	Result        string `json:"result,omitempty"`
	NextAttemptMs *int64 `json:"next_attempt_ms,omitempty"`
	// Count is the number of changes synced, or operations loaded on restart.
	Count      int    `json:"count,omitempty"`
	ChangeID   int64  `json:"change_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	Online     *bool  `json:"online,omitempty"`
}

// FinalState is what the queue and coordinator hold after the flow.
type FinalState struct {
	QueueDepth     int `json:"queue_depth"`
	Dead           int `json:"dead"`
	PendingChanges int `json:"pending_changes"`
	SyncedChanges  int `json:"synced_changes"`
}

func (s FinalState) field(name string) int {
	switch name {
	case "queue_depth":
		return s.QueueDepth
	case "dead":
		return s.Dead
	case "pending_changes":
		return s.PendingChanges
	case "synced_changes":
		return s.SyncedChanges
	}
	return 0
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
	State  FinalState   `json:"state"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
