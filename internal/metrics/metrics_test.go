package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_CustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	Enqueued.Inc()
	SyncRounds.WithLabelValues("succeeded").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["offlinesync_operations_enqueued_total"])
	assert.True(t, names["offlinesync_sync_rounds_total"])
	assert.True(t, names["offlinesync_queue_depth"])
}

func TestRegister_TwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	assert.Panics(t, func() { Register(reg) })
}
