// Package httpapi exposes the queue, the change coordinator and the
// connectivity override over HTTP, plus the agent drain hook and
// Prometheus metrics.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/roach88/offlinesync/internal/agent"
	"github.com/roach88/offlinesync/internal/changesync"
	"github.com/roach88/offlinesync/internal/connectivity"
	"github.com/roach88/offlinesync/internal/gateway"
	"github.com/roach88/offlinesync/internal/queue"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 8 << 20

// Deps are the components served. Gatherer defaults to the default
// Prometheus registry.
type Deps struct {
	Queue    *queue.Queue
	Changes  *changesync.Coordinator
	Monitor  *connectivity.Monitor
	Gateway  *gateway.Gateway
	Bridge   *agent.Bridge
	Backend  string
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type server struct {
	Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	s := &server{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Put("/offline", s.setOffline)
		r.Post("/requests", s.execute)
		r.Get("/operations", s.listOperations)
		r.Delete("/operations/{id}", s.purge)
		r.Post("/operations/{id}/revive", s.revive)
		r.Post("/drain", s.agentHook)
		r.Get("/changes", s.listChanges)
		r.Post("/changes", s.queueChange)
		r.Post("/sync", s.sync)
	})
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

type statusResponse struct {
	Online            bool       `json:"online"`
	TransportOnline   bool       `json:"transport_online"`
	UserForcedOffline bool       `json:"user_forced_offline"`
	QueueDepth        int        `json:"queue_depth"`
	NextAttemptAt     *time.Time `json:"next_attempt_at,omitempty"`
	PendingChanges    int        `json:"pending_changes"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
	SyncState         string     `json:"sync_state"`
	Backend           string     `json:"backend,omitempty"`
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	st := s.Monitor.State()
	resp := statusResponse{
		Online:            st.Effective(),
		TransportOnline:   st.TransportOnline,
		UserForcedOffline: st.UserForcedOffline,
		QueueDepth:        s.Queue.Size(),
		SyncState:         string(s.Changes.State()),
		Backend:           s.Backend,
	}
	if next, ok := s.Queue.NextAttemptAt(); ok {
		resp.NextAttemptAt = &next
	}
	pending, err := s.Changes.PendingCount(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	resp.PendingChanges = pending
	last, err := s.Changes.LastSyncAt(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	resp.LastSyncAt = last
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) setOffline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Offline *bool `json:"offline"`
	}
	if err := decode(w, r, &body); err != nil || body.Offline == nil {
		s.fail(w, http.StatusBadRequest, errors.New(`body must be {"offline": bool}`))
		return
	}
	s.Monitor.SetUserOfflineOverride(*body.Offline)
	s.status(w, r)
}

type executeRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

type executeResponse struct {
	Kind        gateway.Kind `json:"kind"`
	Status      int          `json:"status"`
	OperationID string       `json:"operation_id,omitempty"`
	Header      http.Header  `json:"header,omitempty"`
	Body        string       `json:"body,omitempty"`
	Error       string       `json:"error,omitempty"`
}

func (s *server) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	var body []byte
	if len(req.Body) > 0 {
		body = requestBody(req.Body)
	}
	resp, err := s.Gateway.Execute(r.Context(), gateway.Request{
		Method:  req.Method,
		URL:     req.URL,
		Headers: req.Headers,
		Body:    body,
	})
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	out := executeResponse{
		Kind:        resp.Kind,
		Status:      resp.Status,
		OperationID: resp.OperationID,
		Header:      resp.Header,
		Body:        string(resp.Body),
	}
	if resp.Err != nil {
		out.Error = resp.Err.Error()
	}
	code := http.StatusOK
	switch resp.Kind {
	case gateway.Queued:
		code = http.StatusAccepted
	case gateway.Unreachable:
		code = http.StatusBadGateway
	case gateway.UnavailableOffline:
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, out)
}

// requestBody unwraps a JSON string body to its raw text; any other JSON
// value is sent as-is.
func requestBody(raw json.RawMessage) []byte {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []byte(text)
	}
	return []byte(raw)
}

func (s *server) listOperations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"operations": s.Queue.Operations()})
}

func (s *server) purge(w http.ResponseWriter, r *http.Request) {
	err := s.Queue.Purge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, queueStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) revive(w http.ResponseWriter, r *http.Request) {
	op, err := s.Queue.Revive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, queueStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func queueStatus(err error) int {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrNotDead):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// agentHook lets a host scheduler without pub/sub poke the process:
// POST /v1/drain, or /v1/drain?kind=sync for a sync round.
func (s *server) agentHook(w http.ResponseWriter, r *http.Request) {
	kind := agent.KindDrain
	if r.URL.Query().Get("kind") == string(agent.KindSync) {
		kind = agent.KindSync
	}
	s.Bridge.Deliver(r.Context(), agent.Message{Kind: kind, Source: "http", At: time.Now().UTC()})
	writeJSON(w, http.StatusAccepted, map[string]string{"kind": string(kind)})
}

func (s *server) listChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := s.Changes.Changes(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *server) queueChange(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ResourceID string          `json:"resource_id"`
		Payload    json.RawMessage `json:"payload"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	var payload any
	if len(body.Payload) > 0 {
		payload = body.Payload
	}
	ch, err := s.Changes.QueueChange(r.Context(), body.ResourceID, payload)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, changesync.ErrInvalidChange) {
			code = http.StatusBadRequest
		}
		s.fail(w, code, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

type syncResponse struct {
	Outcome  changesync.Outcome `json:"outcome"`
	Source   changesync.Source  `json:"source"`
	Synced   int                `json:"synced"`
	SyncedAt *time.Time         `json:"synced_at,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func (s *server) sync(w http.ResponseWriter, r *http.Request) {
	res := s.Changes.RunSyncNow(r.Context(), changesync.SourceManual)
	out := syncResponse{Outcome: res.Outcome, Source: res.Source, Synced: res.Synced, SyncedAt: res.SyncedAt}
	code := http.StatusOK
	switch res.Outcome {
	case changesync.Failed:
		code = http.StatusBadGateway
	case changesync.Skipped:
		code = http.StatusConflict
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	writeJSON(w, code, out)
}

func (s *server) fail(w http.ResponseWriter, code int, err error) {
	if code >= 500 {
		s.Logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
