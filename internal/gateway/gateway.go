// Package gateway is the single write path for remote calls. Online, it
// forwards requests; offline, it fails reads and queues writes.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/offlinesync/internal/model"
	"github.com/roach88/offlinesync/internal/queue"
)

// ErrUnsupportedMethod is returned for methods other than GET, HEAD,
// POST, PUT, PATCH and DELETE.
var ErrUnsupportedMethod = errors.New("gateway: unsupported method")

// Synthetic response headers.
const (
	HeaderQueued      = "X-Offline-Queued"
	HeaderOperationID = "X-Offline-Operation-Id"
)

// Kind says how a Response was produced.
type Kind string

const (
	// Delivered: the remote server answered; Status is real.
	Delivered Kind = "delivered"
	// Unreachable: online, but the call failed in transport.
	Unreachable Kind = "unreachable"
	// UnavailableOffline: a read attempted while offline.
	UnavailableOffline Kind = "unavailable_offline"
	// Queued: a write accepted into the queue while offline.
	Queued Kind = "queued"
)

// Request is a call routed through the gateway.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is either the real server response or a synthetic one.
type Response struct {
	Kind        Kind
	Status      int
	Header      http.Header
	Body        []byte
	OperationID string
	// Err is the transport error for Unreachable.
	Err error
}

// Queued reports whether the write was deferred rather than confirmed.
func (r *Response) Queued() bool { return r.Kind == Queued }

// Connectivity is the read side of connectivity.Monitor.
type Connectivity interface {
	IsEffectivelyOnline() bool
}

// Enqueuer is the write side of queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req model.OperationRequest) (string, error)
}

// Gateway routes requests. Construct with New.
type Gateway struct {
	conn    Connectivity
	queue   Enqueuer
	client  queue.Doer
	logger  *zap.Logger
	baseURL *url.URL
	maxBody int64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBaseURL resolves relative targets against base when forwarding.
// Queued writes keep the target as given; the queue resolves it at replay.
func WithBaseURL(base *url.URL) Option { return func(g *Gateway) { g.baseURL = base } }

// DefaultMaxResponseBody caps how much of a delivered response is read.
const DefaultMaxResponseBody = 4 << 20

// New wires a gateway.
func New(conn Connectivity, q Enqueuer, client queue.Doer, logger *zap.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{conn: conn, queue: q, client: client, logger: logger, maxBody: DefaultMaxResponseBody}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute performs, fails or queues req depending on connectivity and
// method. Only method validation and enqueue validation errors are
// returned; transport failures come back as Unreachable responses.
func (g *Gateway) Execute(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	read := method == http.MethodGet || method == http.MethodHead
	if !read {
		if m, ok := model.ParseMethod(method); !ok || !m.IsWrite() {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, req.Method)
		}
	}

	if g.conn.IsEffectivelyOnline() {
		return g.forward(ctx, method, req)
	}

	if read {
		g.logger.Debug("read refused while offline", zap.String("url", req.URL))
		return &Response{
			Kind:   UnavailableOffline,
			Status: http.StatusServiceUnavailable,
			Header: http.Header{},
		}, nil
	}

	id, err := g.queue.Enqueue(ctx, model.OperationRequest{
		Method:  model.Method(method),
		URL:     req.URL,
		Headers: req.Headers,
		Body:    req.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("queue %s %s: %w", method, req.URL, err)
	}
	h := http.Header{}
	h.Set(HeaderQueued, "true")
	h.Set(HeaderOperationID, id)
	g.logger.Info("write queued while offline",
		zap.String("op_id", id),
		zap.String("method", method),
		zap.String("url", req.URL))
	return &Response{
		Kind:        Queued,
		Status:      http.StatusAccepted,
		Header:      h,
		OperationID: id,
	}, nil
}

func (g *Gateway) forward(ctx context.Context, method string, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	target := queue.ResolveURL(g.baseURL, req.URL)
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.logger.Debug("remote unreachable", zap.String("url", target), zap.Error(err))
		return &Response{Kind: Unreachable, Header: http.Header{}, Err: err}, nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBody))
	if err != nil {
		return &Response{Kind: Unreachable, Status: resp.StatusCode, Header: resp.Header, Err: err}, nil
	}
	return &Response{
		Kind:   Delivered,
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}
