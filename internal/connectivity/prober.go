package connectivity

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/offlinesync/internal/clock"
)

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProbeResult is the outcome of one health probe.
type ProbeResult struct {
	Target    string        `json:"target"`
	OK        bool          `json:"ok"`
	Latency   time.Duration `json:"latency"`
	Err       string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Prober turns periodic HEAD requests into the transport signal. Any HTTP
// response, whatever its status, counts as reachable.
type Prober struct {
	Target   string
	Interval time.Duration
	Timeout  time.Duration
	Client   Doer
	Monitor  *Monitor
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Probe runs one check and feeds the monitor.
func (p *Prober) Probe(ctx context.Context) ProbeResult {
	clk := p.Clock
	if clk == nil {
		clk = clock.System{}
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	start := clk.Now()
	res := ProbeResult{Target: p.Target, CheckedAt: start.UTC()}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.Target, nil)
	if err == nil {
		var resp *http.Response
		resp, err = p.Client.Do(req)
		if err == nil {
			resp.Body.Close()
		}
	}
	res.Latency = clk.Now().Sub(start)
	res.OK = err == nil
	if err != nil {
		res.Err = err.Error()
	}

	if p.Monitor != nil {
		p.Monitor.SetTransportOnline(res.OK)
	}
	if p.Logger != nil {
		p.Logger.Debug("connectivity probe",
			zap.String("target", res.Target),
			zap.Bool("ok", res.OK),
			zap.Duration("latency", res.Latency),
			zap.String("error", res.Err))
	}
	return res
}

// Run probes immediately and then every Interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	p.Probe(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
