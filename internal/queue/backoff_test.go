package queue

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DefaultTable(t *testing.T) {
	tests := []struct {
		tries int
		want  time.Duration
	}{
		{-1, 0},
		{0, 0},
		{1, 2 * time.Second},
		{2, 5 * time.Second},
		{3, 10 * time.Second},
		{4, 30 * time.Second},
		{5, 60 * time.Second},
		{6, 60 * time.Second},
		{1000, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultBackoff.Delay(tt.tries), "tries=%d", tt.tries)
	}
}

func TestBackoff_MonotoneAndBounded(t *testing.T) {
	for tries := 0; tries < 100; tries++ {
		assert.GreaterOrEqual(t, DefaultBackoff.Delay(tries+1), DefaultBackoff.Delay(tries))
		assert.LessOrEqual(t, DefaultBackoff.Delay(tries), DefaultBackoff.Max())
	}
}

func TestBackoff_Empty(t *testing.T) {
	var b Backoff
	assert.Equal(t, time.Duration(0), b.Delay(3))
	assert.Equal(t, time.Duration(0), b.Max())
}

func TestBackoff_Valid(t *testing.T) {
	assert.True(t, DefaultBackoff.valid())
	assert.False(t, Backoff{time.Second, 0}.valid())
	assert.False(t, Backoff{-time.Second}.valid())
}

func TestRetryPolicy_Terminal(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{0, false},
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusConflict, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeadLetterClientErrors.terminal(tt.status), "status=%d", tt.status)
		assert.False(t, RetryAlways.terminal(tt.status), "status=%d", tt.status)
	}
}

func TestParseRetryPolicy(t *testing.T) {
	p, ok := ParseRetryPolicy("")
	assert.True(t, ok)
	assert.Equal(t, RetryAlways, p)

	p, ok = ParseRetryPolicy("dead_letter_client_errors")
	assert.True(t, ok)
	assert.Equal(t, DeadLetterClientErrors, p)
	assert.Equal(t, "dead_letter_client_errors", p.String())

	_, ok = ParseRetryPolicy("never")
	assert.False(t, ok)
}
