package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in    string
		want  Method
		valid bool
	}{
		{"put", MethodPut, true},
		{" PATCH ", MethodPatch, true},
		{"GET", MethodGet, true},
		{"HEAD", Method("HEAD"), false},
		{"", Method(""), false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseMethod(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.valid, ok)
		})
	}
}

func TestMethod_IsWrite(t *testing.T) {
	assert.False(t, MethodGet.IsWrite())
	assert.True(t, MethodPost.IsWrite())
	assert.True(t, MethodDelete.IsWrite())
}

func TestOperation_Eligible(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	op := Operation{State: StateActive, NextAttemptAt: now}
	assert.True(t, op.Eligible(now), "due exactly now")

	op.NextAttemptAt = now.Add(time.Millisecond)
	assert.False(t, op.Eligible(now), "due in the future")

	op.NextAttemptAt = now.Add(-time.Second)
	op.State = StateDead
	assert.False(t, op.Eligible(now), "dead operations are never eligible")
}

func TestOperation_CloneIsDeep(t *testing.T) {
	op := Operation{Headers: map[string]string{"a": "1"}, Body: []byte("x")}
	c := op.Clone()
	c.Headers["a"] = "2"
	c.Body[0] = 'y'

	assert.Equal(t, "1", op.Headers["a"])
	assert.Equal(t, byte('x'), op.Body[0])
}

func TestNormalize_RoundTripsThroughMillis(t *testing.T) {
	ts := time.Date(2026, 5, 6, 7, 8, 9, 123456789, time.FixedZone("x", 3600))
	n := Normalize(ts)

	assert.Equal(t, time.UTC, n.Location())
	assert.Equal(t, 123000000, n.Nanosecond())
	assert.Equal(t, n, FromMillis(Millis(n)))
}
