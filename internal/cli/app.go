package cli

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/roach88/offlinesync/internal/changesync"
	"github.com/roach88/offlinesync/internal/config"
	"github.com/roach88/offlinesync/internal/logging"
	"github.com/roach88/offlinesync/internal/queue"
	"github.com/roach88/offlinesync/internal/store"
)

// app is the set of components every store-backed command needs.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   store.DurableStore
	queue   *queue.Queue
	changes *changesync.Coordinator
	client  *http.Client
}

// loadEnv reads the config files and builds the logger.
func loadEnv(opts *RootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger, err := logging.New(opts.Verbose, opts.Format)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	return cfg, logger, nil
}

// openApp loads config, opens the store and builds the queue and the
// change coordinator.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, logger, err := loadEnv(opts)
	if err != nil {
		return nil, err
	}
	return buildApp(ctx, cfg, logger)
}

// buildApp is openApp for an already loaded environment. extra options
// are appended to the queue's.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, extra ...queue.Option) (*app, error) {
	st, err := store.Open(ctx, cfg.StoreConfig(), logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	base, _ := cfg.BaseURL()
	client := newHTTPClient(cfg.Remote.Token)
	qopts := []queue.Option{
		queue.WithLogger(logger),
		queue.WithRetryPolicy(cfg.RetryPolicy()),
		queue.WithRequestTimeout(cfg.Remote.Timeout),
	}
	if base != nil {
		qopts = append(qopts, queue.WithBaseURL(base))
	}
	q, err := queue.New(ctx, st, append(qopts, extra...)...)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load queue", err)
	}

	copts := []changesync.Option{changesync.WithLogger(logger)}
	if base != nil {
		copts = append(copts, changesync.WithHandler(&changesync.HTTPHandler{
			Client:  client,
			URL:     cfg.SyncURL(),
			Timeout: cfg.Remote.Timeout,
		}))
	}
	c, err := changesync.New(st, copts...)
	if err != nil {
		q.Close()
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open change coordinator", err)
	}

	return &app{cfg: cfg, logger: logger, store: st, queue: q, changes: c, client: client}, nil
}

func (a *app) Close() {
	a.changes.Close()
	a.queue.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("error closing store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// bearerTransport adds an Authorization header unless the request
// already carries one.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(r)
}

func newHTTPClient(token string) *http.Client {
	if token == "" {
		return &http.Client{}
	}
	return &http.Client{Transport: &bearerTransport{token: token, base: http.DefaultTransport}}
}
