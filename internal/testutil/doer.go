package testutil

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
)

// ErrUnreachable is returned by StubDoer for scripted transport failures.
var ErrUnreachable = errors.New("stub: network unreachable")

// Call records one request seen by StubDoer.
type Call struct {
	Method string
	Path   string
	Header http.Header
	Body   string
}

// StubDoer is a scripted HTTP client.
//
// Each target path has a list of status codes consumed one per call; the
// last entry repeats once the list is exhausted. A status of 0 simulates a
// transport error. Paths without a script answer 200.
type StubDoer struct {
	mu      sync.Mutex
	scripts map[string][]int
	calls   []Call
}

// NewStubDoer creates a doer answering 200 for everything.
func NewStubDoer() *StubDoer {
	return &StubDoer{scripts: make(map[string][]int)}
}

// Script sets the status sequence for path.
func (d *StubDoer) Script(path string, statuses ...int) *StubDoer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[path] = append([]int(nil), statuses...)
	return d
}

// Do implements the Doer seam used by the queue and gateway.
func (d *StubDoer) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
		body = string(b)
	}

	d.mu.Lock()
	d.calls = append(d.calls, Call{
		Method: req.Method,
		Path:   req.URL.Path,
		Header: req.Header.Clone(),
		Body:   body,
	})
	status := http.StatusOK
	if script := d.scripts[req.URL.Path]; len(script) > 0 {
		status = script[0]
		if len(script) > 1 {
			d.scripts[req.URL.Path] = script[1:]
		}
	}
	d.mu.Unlock()

	if status == 0 {
		return nil, ErrUnreachable
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}, nil
}

// Calls returns a copy of every recorded call.
func (d *StubDoer) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Paths returns the request paths in call order.
func (d *StubDoer) Paths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	for i, c := range d.calls {
		out[i] = c.Path
	}
	return out
}

// Reset forgets recorded calls but keeps scripts.
func (d *StubDoer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}
