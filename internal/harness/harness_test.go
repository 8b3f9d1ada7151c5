package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestScenarios_Golden(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario, WithLogger(zaptest.NewLogger(t)))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/three_op_retry.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalSnapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.NotContains(t, string(a), "key-", "idempotency keys stay out of the trace")
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectation
description: "expects a delivery that cannot happen"
responses:
  /jobs/1: [503]
flow:
  - do: enqueue
    method: PUT
    url: /jobs/1
  - do: drain
    expect: { delivered: 1 }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected delivered=1, got 0")
}

func TestRun_AssertionFailureIncludesTrace(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_order
description: "asserts the reverse of enqueue order"
flow:
  - do: enqueue
    method: POST
    url: /a
  - do: enqueue
    method: POST
    url: /b
  - do: drain
assertions:
  - type: trace_order
    event: attempt
    paths: [/b, /a]
  - type: final_state
    expect: { queue_depth: 2 }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "/b (pos 4) should be before /a (pos 3)")
	assert.Contains(t, result.Errors[0], "Full trace:")
	assert.Contains(t, result.Errors[1], "queue_depth=0 (want 2)")
}

func TestRun_ForceOfflineQueuesEvenWithTransport(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: forced
description: "user override wins over a live transport"
flow:
  - do: force_offline
  - do: request
    method: PATCH
    url: /jobs/9
    expect: { kind: queued }
  - do: force_offline
    value: false
  - do: request
    method: GET
    url: /jobs/9
    expect: { kind: delivered }
assertions:
  - type: final_state
    expect: { queue_depth: 1 }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 4)
	assert.False(t, *result.Trace[0].Online)
	assert.True(t, *result.Trace[2].Online)
}

func TestParseScenario_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing name":      "description: x\nflow: [{do: drain}]\n",
		"missing flow":      "name: x\ndescription: x\n",
		"unknown step":      "name: x\ndescription: x\nflow: [{do: teleport}]\n",
		"unknown field":     "name: x\ndescription: x\nflows: []\n",
		"bad advance":       "name: x\ndescription: x\nflow: [{do: advance, by: soon}]\n",
		"enqueue no url":    "name: x\ndescription: x\nflow: [{do: enqueue, method: PUT}]\n",
		"bad policy":        "name: x\ndescription: x\nretry_policy: maybe\nflow: [{do: drain}]\n",
		"bad status":        "name: x\ndescription: x\nresponses: {/a: [42]}\nflow: [{do: drain}]\n",
		"bad state field":   "name: x\ndescription: x\nflow: [{do: drain}]\nassertions: [{type: final_state, expect: {depth: 1}}]\n",
		"unknown assertion": "name: x\ndescription: x\nflow: [{do: drain}]\nassertions: [{type: vibes}]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseScenario([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to read scenario file"))
}

func TestRun_EnqueueValidationErrorAborts(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_method
description: "TRACE is not queueable"
flow:
  - do: enqueue
    method: TRACE
    url: /a
`))
	require.NoError(t, err)
	_, err = Run(scenario)
	assert.Error(t, err)
}
