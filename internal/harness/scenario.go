package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/offlinesync/internal/queue"
)

// Scenario is a scripted run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RetryPolicy is retry_always (default) or dead_letter_client_errors.
	RetryPolicy string `yaml:"retry_policy,omitempty"`

	// StartOffline starts with transport connectivity down.
	StartOffline bool `yaml:"start_offline,omitempty"`

	// Responses scripts the remote server per request path.
	Responses map[string][]int `yaml:"responses,omitempty"`

	Flow       []FlowStep  `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one scripted action. Which fields apply depends on Do.
type FlowStep struct {
	Do string `yaml:"do"`

	// enqueue, request
	Method  string            `yaml:"method,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty"`

	// advance
	By string `yaml:"by,omitempty"`

	// force_offline
	Value *bool `yaml:"value,omitempty"`

	// change
	ResourceID string `yaml:"resource_id,omitempty"`
	Payload    any    `yaml:"payload,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause checks a step's outcome. Unset fields are not checked.
type ExpectClause struct {
	// drain
	Delivered *int `yaml:"delivered,omitempty"`
	Failed    *int `yaml:"failed,omitempty"`
	Dead      *int `yaml:"dead,omitempty"`
	Deferred  *int `yaml:"deferred,omitempty"`

	// request: gateway kind (delivered, unreachable, unavailable_offline, queued)
	Kind string `yaml:"kind,omitempty"`

	// sync: succeeded, failed, skipped
	Outcome string `yaml:"outcome,omitempty"`
	Synced  *int   `yaml:"synced,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Event filter used by the trace assertions. Empty fields match
	// anything.
	Event  string `yaml:"event,omitempty"`
	Path   string `yaml:"path,omitempty"`
	Result string `yaml:"result,omitempty"`
	Status int    `yaml:"status,omitempty"`
	OpID   string `yaml:"op_id,omitempty"`

	// trace_count
	Count int `yaml:"count,omitempty"`

	// trace_order
	Paths []string `yaml:"paths,omitempty"`

	// final_state
	Expect map[string]int `yaml:"expect,omitempty"`
}

// Step names.
const (
	StepEnqueue      = "enqueue"
	StepRequest      = "request"
	StepDrain        = "drain"
	StepAdvance      = "advance"
	StepOnline       = "online"
	StepOffline      = "offline"
	StepForceOffline = "force_offline"
	StepRestart      = "restart"
	StepChange       = "change"
	StepSync         = "sync"
)

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

var finalStateKeys = map[string]bool{
	"queue_depth":     true,
	"dead":            true,
	"pending_changes": true,
	"synced_changes":  true,
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "assertion:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if _, ok := queue.ParseRetryPolicy(s.RetryPolicy); !ok {
		return fmt.Errorf("unknown retry_policy %q", s.RetryPolicy)
	}
	for path, statuses := range s.Responses {
		for _, st := range statuses {
			if st != 0 && (st < 100 || st > 599) {
				return fmt.Errorf("responses[%s]: invalid status %d", path, st)
			}
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *FlowStep) error {
	switch step.Do {
	case StepEnqueue, StepRequest:
		if step.Method == "" || step.URL == "" {
			return fmt.Errorf("flow[%d]: method and url are required for %s", i, step.Do)
		}
	case StepAdvance:
		d, err := time.ParseDuration(step.By)
		if err != nil || d <= 0 {
			return fmt.Errorf("flow[%d]: advance needs a positive duration in by", i)
		}
	case StepChange:
		if step.ResourceID == "" {
			return fmt.Errorf("flow[%d]: resource_id is required for change", i)
		}
	case StepDrain, StepOnline, StepOffline, StepForceOffline, StepRestart, StepSync:
	case "":
		return fmt.Errorf("flow[%d]: do is required", i)
	default:
		return fmt.Errorf("flow[%d]: unknown step %q", i, step.Do)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Paths) == 0 {
			return fmt.Errorf("assertions[%d]: paths list is required for trace_order", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
		for k := range a.Expect {
			if !finalStateKeys[k] {
				return fmt.Errorf("assertions[%d]: unknown final_state field %q", index, k)
			}
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
