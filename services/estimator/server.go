package estimator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/perclft/sshqpe/backend/backends"
	"github.com/perclft/sshqpe/errdefs"
	"github.com/perclft/sshqpe/pipeline"
	"github.com/perclft/sshqpe/services/cache"
	"github.com/perclft/sshqpe/services/registry"
)

// ------------------------------------------------------------------
// Estimator Server
// ------------------------------------------------------------------

// Server implements EstimatorServer on a pipeline.Runner. Seeded estimates
// are cached when a cache is configured; every completed estimate is
// recorded when a registry is configured.
type Server struct {
	runner   *pipeline.Runner
	cache    cache.Cache
	ttl      time.Duration
	registry *registry.Registry
	metrics  *Metrics
	logger   *zap.Logger
}

type Option func(*Server)

func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Server) { s.cache, s.ttl = c, ttl }
}

func WithRegistry(r *registry.Registry) Option {
	return func(s *Server) { s.registry = r }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func NewServer(runner *pipeline.Runner, opts ...Option) *Server {
	s := &Server{runner: runner, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.Named("estimator")
	if s.metrics != nil && s.cache != nil {
		s.metrics.watchCache(s.cache)
	}
	return s
}

// NewGRPCServer builds a gRPC server exposing s and the health service.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	if s.metrics != nil {
		opts = append(opts, grpc.ChainUnaryInterceptor(s.metrics.UnaryInterceptor()))
	}
	g := grpc.NewServer(opts...)
	RegisterEstimatorServer(g, s)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(g, hs)
	return g
}

// ------------------------------------------------------------------
// Estimate - run one spec, from cache when seeded
// ------------------------------------------------------------------

func (s *Server) Estimate(ctx context.Context, req *EstimateRequest) (*EstimateResponse, error) {
	start := time.Now()
	spec, err := req.Spec()
	if err != nil {
		return nil, toStatus(err)
	}

	key := s.cacheKey(spec)
	switch {
	case key != "" && req.Refresh:
		if _, err := s.cache.Invalidate(ctx, key); err != nil {
			s.logger.Warn("cache invalidate failed", zap.Error(err))
		}
	case key != "":
		var res pipeline.Result
		hit, err := cache.Lookup(ctx, s.cache, key, &res)
		if err != nil {
			s.logger.Warn("cache lookup failed", zap.Error(err))
		}
		if hit {
			s.observeCache(true)
			return newEstimateResponse(&res, true, start), nil
		}
		s.observeCache(false)
	}

	res, err := s.runner.Run(ctx, spec)
	if err != nil {
		s.logger.Info("estimate failed", zap.Error(err))
		return nil, toStatus(err)
	}
	if s.metrics != nil {
		s.metrics.spread.Observe(res.Spread)
		s.metrics.shots.Add(float64(res.Spec.Shots))
	}

	if key != "" {
		if err := cache.Store(ctx, s.cache, key, res, s.ttl); err != nil {
			s.logger.Warn("cache store failed", zap.Error(err))
		}
	}
	s.record(ctx, res)
	return newEstimateResponse(res, false, start), nil
}

// cacheKey is empty when the run must not be cached: no cache, or no seed
// to make the run reproducible.
func (s *Server) cacheKey(spec pipeline.Spec) string {
	if s.cache == nil || spec.Seed == nil {
		return ""
	}
	key, err := cache.Key(spec)
	if err != nil {
		s.logger.Warn("cache key failed", zap.Error(err))
		return ""
	}
	return key
}

func (s *Server) observeCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.cacheHits.Inc()
	} else {
		s.metrics.cacheMisses.Inc()
	}
}

func (s *Server) record(ctx context.Context, res *pipeline.Result) {
	if s.registry == nil {
		return
	}
	if _, err := s.registry.Record(ctx, res); err != nil {
		s.logger.Warn("run not recorded", zap.String("run_id", res.RunID), zap.Error(err))
	}
}

func newEstimateResponse(res *pipeline.Result, cached bool, start time.Time) *EstimateResponse {
	return &EstimateResponse{
		Result:      res,
		Cached:      cached,
		CompletedAt: timestamppb.Now(),
		Elapsed:     durationpb.New(time.Since(start)),
	}
}

// ------------------------------------------------------------------
// Sweep - rerun one spec across depolarizing rates
// ------------------------------------------------------------------

func (s *Server) Sweep(ctx context.Context, req *SweepRequest) (*SweepResponse, error) {
	start := time.Now()
	spec, err := req.Estimate.Spec()
	if err != nil {
		return nil, toStatus(err)
	}
	for _, rate := range req.Rates {
		if rate < 0 || rate > 1 {
			return nil, toStatus(errdefs.InvalidParameter("rates", rate, "must be within [0, 1]"))
		}
	}
	points, err := s.runner.Sweep(ctx, spec, req.Rates)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SweepResponse{
		Points:      points,
		CompletedAt: timestamppb.Now(),
		Elapsed:     durationpb.New(time.Since(start)),
	}, nil
}

// ------------------------------------------------------------------
// GetRun / ListRuns / DeleteRun - the run registry
// ------------------------------------------------------------------

func (s *Server) GetRun(ctx context.Context, req *GetRunRequest) (*GetRunResponse, error) {
	if s.registry == nil {
		return nil, status.Error(codes.Unimplemented, "run registry is not configured")
	}
	rec, err := s.registry.Get(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetRunResponse{Run: rec}, nil
}

func (s *Server) ListRuns(ctx context.Context, req *ListRunsRequest) (*ListRunsResponse, error) {
	if s.registry == nil {
		return nil, status.Error(codes.Unimplemented, "run registry is not configured")
	}
	runs, err := s.registry.List(ctx, registry.ListOptions{
		UnitCells: req.UnitCells,
		Page:      req.Page,
		PageSize:  req.PageSize,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListRunsResponse{Runs: runs}, nil
}

func (s *Server) DeleteRun(ctx context.Context, req *DeleteRunRequest) (*DeleteRunResponse, error) {
	if s.registry == nil {
		return nil, status.Error(codes.Unimplemented, "run registry is not configured")
	}
	if err := s.registry.Delete(ctx, req.ID); err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("run deleted", zap.String("run_id", req.ID))
	return &DeleteRunResponse{}, nil
}

// toStatus maps pipeline errors onto gRPC codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errdefs.IsInvalidParameter(err):
		code = codes.InvalidArgument
	case errors.Is(err, backends.ErrTooManyQubits):
		code = codes.ResourceExhausted
	case errors.Is(err, registry.ErrNotFound):
		code = codes.NotFound
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
