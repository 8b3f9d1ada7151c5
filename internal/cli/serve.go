package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/offlinesync/internal/agent"
	"github.com/roach88/offlinesync/internal/config"
	"github.com/roach88/offlinesync/internal/connectivity"
	"github.com/roach88/offlinesync/internal/gateway"
	"github.com/roach88/offlinesync/internal/httpapi"
	"github.com/roach88/offlinesync/internal/metrics"
	"github.com/roach88/offlinesync/internal/queue"
	"github.com/roach88/offlinesync/internal/scheduler"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the queue, sync scheduler and HTTP API",
		Long: `Run offlinesync as a long-lived process.

Starts the connectivity prober (when connectivity.probe_url is set), the
background agent bridge, the drain and sync scheduler, and the HTTP API.
Stops gracefully on SIGINT or SIGTERM.

Example:
  offlinesync serve -c offlinesync.yml
  offlinesync serve -c base.yml,local.yml --addr :9000 -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, addr, cmd)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

func runServe(opts *RootOptions, addr string, cmd *cobra.Command) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	cfg, log, err := loadEnv(opts)
	if err != nil {
		return err
	}
	host, err := newAgentHost(ctx, cfg, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start background agent", err)
	}
	// the bridge exists before the queue so enqueues can notify it
	bridge := agent.NewBridge(host, log)
	defer bridge.Close()

	a, err := buildApp(ctx, cfg, log, queue.WithNotifier(bridge))
	if err != nil {
		return err
	}
	defer a.Close()

	if err := registerMetrics(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", zap.Error(err))
	}

	monitor := connectivity.New(!cfg.Connectivity.StartOffline)
	defer monitor.Close()

	sched := scheduler.New(scheduler.Deps{
		Queue:  a.queue,
		Client: a.client,
		Sync:   a.changes,
		Conn:   monitor,
		Agent:  bridge,
		Logger: log,
	}, scheduler.Options{
		DrainInterval: cfg.Queue.DrainInterval,
		SyncInterval:  cfg.Sync.Interval,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	go bridge.Run(ctx)
	if cfg.Connectivity.ProbeURL != "" {
		prober := &connectivity.Prober{
			Target:   cfg.Connectivity.ProbeURL,
			Interval: cfg.Connectivity.ProbeInterval,
			Client:   a.client,
			Monitor:  monitor,
			Logger:   log,
		}
		go prober.Run(ctx)
	}
	sched.Start(ctx)
	defer sched.Stop()

	if addr == "" {
		addr = cfg.HTTP.Addr
	}
	srv := &http.Server{
		Addr: addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Queue:   a.queue,
			Changes: a.changes,
			Monitor: monitor,
			Gateway: newGateway(cfg, monitor, a, log),
			Bridge:  bridge,
			Backend: a.store.Backend(),
			Logger:  log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http api listening",
			zap.String("addr", addr),
			zap.String("backend", a.store.Backend()),
			zap.String("agent", cfg.Agent.Kind))
		errCh <- srv.ListenAndServe()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "offlinesync serving on %s. Press Ctrl-C to stop.\n", addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "http server failed", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("stopped gracefully")
	return nil
}

// newGateway forwards relative targets to the same base URL the queue
// replays them against.
func newGateway(cfg *config.Config, monitor *connectivity.Monitor, a *app, log *zap.Logger) *gateway.Gateway {
	var opts []gateway.Option
	if base, _ := cfg.BaseURL(); base != nil {
		opts = append(opts, gateway.WithBaseURL(base))
	}
	return gateway.New(monitor, a.queue, a.client, log, opts...)
}

// newAgentHost builds the configured background facility.
func newAgentHost(ctx context.Context, cfg *config.Config, log *zap.Logger) (agent.Host, error) {
	switch cfg.Agent.Kind {
	case config.AgentFile:
		return agent.NewFileHost(cfg.Agent.SpoolDir, log)
	case config.AgentRedis:
		return agent.NewRedisHost(ctx, cfg.Agent.RedisURL, cfg.Agent.ChannelPrefix, log)
	default:
		return agent.NoopHost{}, nil
	}
}

// registerMetrics adds every collector to reg. Collectors already present,
// as when serve runs twice in one process, count as registered.
func registerMetrics(reg prometheus.Registerer) error {
	for _, c := range metrics.Collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
