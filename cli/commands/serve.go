package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perclft/sshqpe/config"
	"github.com/perclft/sshqpe/services/cache"
	"github.com/perclft/sshqpe/services/estimator"
	"github.com/perclft/sshqpe/services/registry"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen, metricsListen, redisAddr, backend string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the estimator gRPC service",
		Long: `Serve Estimate, Sweep, GetRun and ListRuns over gRPC, with health
checks and Prometheus metrics. Seeded estimates are cached in Redis when
--redis is set, else in memory. Runs are recorded when a database is
configured.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().StringVar(&listen, "listen", "", "gRPC listen address (default from config)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "metrics listen address (default from config)")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address for the result cache")
	cmd.Flags().StringVar(&backend, "backend", "", "executor backend (default from config)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		out := rootOpts.formatter(cmd)
		cfg, logger, err := rootOpts.load()
		if err != nil {
			return out.Error(err)
		}
		defer logger.Sync()
		if cmd.Flags().Changed("listen") {
			cfg.Server.Listen = listen
		}
		if cmd.Flags().Changed("metrics-listen") {
			cfg.Server.MetricsListen = metricsListen
		}
		if cmd.Flags().Changed("redis") {
			cfg.Server.RedisAddr = redisAddr
		}
		if cmd.Flags().Changed("backend") {
			cfg.Run.Backend = backend
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := serve(ctx, cfg, logger); err != nil {
			return out.Error(classify("serve", err))
		}
		return nil
	}
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	runner, err := newRunner(cfg.Run.Backend, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []estimator.Option{
		estimator.WithLogger(logger),
		estimator.WithMetrics(estimator.NewMetrics(reg)),
	}

	if cfg.Server.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Server.RedisAddr, 0, logger)
		if err != nil {
			return err
		}
		defer rc.Close()
		opts = append(opts, estimator.WithCache(rc, cfg.Server.CacheTTL))
	} else {
		opts = append(opts, estimator.WithCache(cache.NewMemoryCache(), cfg.Server.CacheTTL))
	}

	if db := cfg.Server.Database; db.Driver != "" {
		runs, err := registry.Open(ctx, db.Driver, db.DSN)
		if err != nil {
			return err
		}
		defer runs.Close()
		opts = append(opts, estimator.WithRegistry(runs))
		logger.Info("run registry enabled", zap.String("driver", db.Driver))
	}

	srv := estimator.NewServer(runner, opts...)
	return estimator.Serve(ctx, estimator.NewGRPCServer(srv), estimator.ServeOptions{
		Listen:        cfg.Server.Listen,
		MetricsListen: cfg.Server.MetricsListen,
		Gatherer:      reg,
	}, logger)
}
