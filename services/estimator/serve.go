package estimator

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// ServeOptions are the listen addresses of Serve.
type ServeOptions struct {
	// Listen is the gRPC address, e.g. ":50051".
	Listen string
	// MetricsListen serves /metrics over HTTP; empty disables it.
	MetricsListen string
	// Gatherer backs /metrics.
	Gatherer prometheus.Gatherer
}

// Serve runs the gRPC server and the metrics endpoint until ctx is done,
// then stops both gracefully.
func Serve(ctx context.Context, g *grpc.Server, opts ServeOptions, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	lis, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen %s", opts.Listen)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("estimator listening", zap.String("addr", lis.Addr().String()))
		if err := g.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			return errors.Wrap(err, "grpc server")
		}
		return nil
	})

	var metrics *http.Server
	if opts.MetricsListen != "" {
		gatherer := opts.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		metrics = &http.Server{Addr: opts.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		eg.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", opts.MetricsListen))
			if err := metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
	}

	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down estimator")
		if metrics != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metrics.Shutdown(sctx)
		}
		g.GracefulStop()
		return nil
	})
	return eg.Wait()
}
