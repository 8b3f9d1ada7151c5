package testutil

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubDoer_ScriptConsumesThenRepeatsLast(t *testing.T) {
	d := NewStubDoer().Script("/jobs/2", 500, 0, 200)

	var got []int
	for i := 0; i < 4; i++ {
		req, err := http.NewRequest(http.MethodPut, "/jobs/2", strings.NewReader("x"))
		require.NoError(t, err)
		resp, err := d.Do(req)
		if err != nil {
			assert.ErrorIs(t, err, ErrUnreachable)
			got = append(got, 0)
			continue
		}
		got = append(got, resp.StatusCode)
	}

	assert.Equal(t, []int{500, 0, 200, 200}, got)
	assert.Equal(t, []string{"/jobs/2", "/jobs/2", "/jobs/2", "/jobs/2"}, d.Paths())
	assert.Equal(t, "x", d.Calls()[0].Body)
}

func TestStubDoer_DefaultsToOK(t *testing.T) {
	d := NewStubDoer()
	req, err := http.NewRequest(http.MethodGet, "/anything", nil)
	require.NoError(t, err)

	resp, err := d.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	d.Reset()
	assert.Empty(t, d.Calls())
}
