package cli

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetrics_RepeatIsNoError(t *testing.T) {
	reg := prometheus.NewRegistry()

	require.NoError(t, registerMetrics(reg))
	require.NoError(t, registerMetrics(reg), "second serve in one process must not fail")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["offlinesync_effective_online"])
	assert.True(t, names["offlinesync_queue_depth"])
}

func TestRegisterMetrics_ConflictIsReported(t *testing.T) {
	reg := prometheus.NewRegistry()
	clash := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offlinesync_effective_online",
		Help: "a different collector under the same name",
	})
	require.NoError(t, reg.Register(clash))

	err := registerMetrics(reg)
	require.Error(t, err)
	var already prometheus.AlreadyRegisteredError
	assert.NotErrorAs(t, err, &already)
}
