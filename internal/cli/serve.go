package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nainya/entgraph/internal/logger"
	"github.com/nainya/entgraph/internal/metrics"
	"github.com/nainya/entgraph/internal/server"
	"github.com/nainya/entgraph/pkg/store"
)

// healthInterval is how often the gRPC health status looks at the store
const healthInterval = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	HTTPPort int
	GRPCPort int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open the journaled store and serve it",
		Long: `Open the journaled store, replaying its write-ahead log, and serve:

  HTTP  /metrics /health /ready /debug/pprof
  gRPC  grpc.health.v1.Health, reflection and entgraph.v1.GraphService

The store is checkpointed and closed on SIGINT or SIGTERM.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("http-port") {
				rootOpts.Config.Server.HTTPPort = opts.HTTPPort
			}
			if cmd.Flags().Changed("grpc-port") {
				rootOpts.Config.Server.GRPCPort = opts.GRPCPort
			}
			return runServe(cmd.Context(), rootOpts)
		},
	}

	cmd.Flags().IntVar(&opts.HTTPPort, "http-port", 0, "observability HTTP port (overrides server.http_port)")
	cmd.Flags().IntVar(&opts.GRPCPort, "grpc-port", 0, "gRPC port (overrides server.grpc_port)")

	return cmd
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg := opts.Config
	log := cfg.Logger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	j, err := openStore(opts, log, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := j.Close(); err != nil {
			log.Error("failed to close store").Err(err).Send()
		}
	}()

	log.LogServerStart(cfg.Server.HTTPPort, cfg.Server.GRPCPort, j.Path())

	httpSrv := server.NewObservabilityServer(cfg.Server.HTTPPort, reg, j, log)
	grpcSrv := server.NewGRPCServer(cfg.Server.GRPCPort, m, log)
	grpcSrv.RegisterGraph(j)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.Start)
	g.Go(grpcSrv.Start)
	g.Go(func() error {
		grpcSrv.WatchStore(gctx, j, healthInterval)
		return nil
	})
	g.Go(func() error {
		m.RunUptime(gctx.Done())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.LogServerShutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		grpcSrv.Shutdown()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	log.LogServerReady(cfg.Server.HTTPPort, cfg.Server.GRPCPort)
	if err := g.Wait(); err != nil {
		return err
	}

	if err := j.Checkpoint(); err != nil {
		return fmt.Errorf("final checkpoint: %w", err)
	}
	return nil
}

// openStore opens the journaled store described by the loaded config
func openStore(opts *RootOptions, log *logger.Logger, m *metrics.Metrics) (*store.Journaled, error) {
	cfg := opts.Config
	sopts, err := cfg.StoreOptions(log)
	if err != nil {
		return nil, err
	}
	sopts.Metrics = m
	j, err := store.OpenJournaled(cfg.JournalOptions(), sopts)
	if err != nil {
		return nil, fmt.Errorf("open store in %s: %w", cfg.Store.WALDir, err)
	}
	return j, nil
}
