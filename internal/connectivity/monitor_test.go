package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/offlinesync/internal/metrics"
	"github.com/roach88/offlinesync/internal/testutil"
)

func TestMonitor_Effective(t *testing.T) {
	tests := []struct {
		transport, forced, want bool
	}{
		{true, false, true},
		{true, true, false},
		{false, false, false},
		{false, true, false},
	}
	for _, tt := range tests {
		m := New(tt.transport)
		m.SetUserOfflineOverride(tt.forced)
		assert.Equal(t, tt.want, m.IsEffectivelyOnline(), "%+v", tt)
	}
}

func TestMonitor_PublishesOnlyOnEffectiveFlip(t *testing.T) {
	m := New(true)
	sub := m.Subscribe()
	defer sub.Close()

	m.SetTransportOnline(true)      // no change
	m.SetUserOfflineOverride(true)  // online -> offline
	m.SetTransportOnline(false)     // still offline
	m.SetTransportOnline(true)      // still offline (forced)
	m.SetUserOfflineOverride(false) // offline -> online
	m.SetUserOfflineOverride(false) // no change

	require.Len(t, sub.C, 2)
	first := <-sub.C
	assert.False(t, first.Online)
	assert.True(t, first.State.UserForcedOffline)
	second := <-sub.C
	assert.True(t, second.Online)
}

func TestMonitor_ConcurrentFlipsPublishInOrder(t *testing.T) {
	m := New(true)
	sub := m.Subscribe()
	defer sub.Close()

	// 16 flips at most, within the subscription buffer
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 4; i++ {
				m.SetTransportOnline(i%2 == 1)
			}
		}()
	}
	wg.Wait()

	var got []bool
	for len(sub.C) > 0 {
		got = append(got, (<-sub.C).Online)
	}
	require.NotEmpty(t, got)
	for i, online := range got {
		assert.Equal(t, i%2 == 1, online, "event %d out of order: %v", i, got)
	}
	final := m.IsEffectivelyOnline()
	assert.Equal(t, final, got[len(got)-1])
	assert.Equal(t, boolGauge(final), promtest.ToFloat64(metrics.Online))
}

func TestMonitor_CloseEndsSubscriptions(t *testing.T) {
	m := New(false)
	sub := m.Subscribe()
	m.Close()
	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestProber_AnyResponseIsOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := New(false)
	p := &Prober{Target: srv.URL, Client: srv.Client(), Monitor: m, Logger: zaptest.NewLogger(t)}
	res := p.Probe(context.Background())

	assert.True(t, res.OK)
	assert.Empty(t, res.Err)
	assert.True(t, m.IsEffectivelyOnline())
}

func TestProber_TransportErrorIsOffline(t *testing.T) {
	m := New(true)
	doer := testutil.NewStubDoer().Script("/health", 0)
	p := &Prober{Target: "http://backend.invalid/health", Client: doer, Monitor: m}

	res := p.Probe(context.Background())
	assert.False(t, res.OK)
	assert.Contains(t, res.Err, "unreachable")
	assert.False(t, m.IsEffectivelyOnline())
}

func TestProber_RunStopsOnCancel(t *testing.T) {
	m := New(false)
	doer := testutil.NewStubDoer()
	p := &Prober{Target: "http://backend.invalid/health", Client: doer, Monitor: m, Interval: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, m.IsEffectivelyOnline, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
