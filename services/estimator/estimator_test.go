package estimator

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/perclft/sshqpe/backend/backends"
	"github.com/perclft/sshqpe/circuit"
	"github.com/perclft/sshqpe/errdefs"
	"github.com/perclft/sshqpe/pipeline"
	"github.com/perclft/sshqpe/services/cache"
	"github.com/perclft/sshqpe/services/registry"
)

func start(t *testing.T, opts ...Option) (*Client, *grpc.ClientConn) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	runner := pipeline.NewRunner(backends.NewLocalSimulatorBackend(backends.WithLogger(logger)), logger)
	g := NewGRPCServer(NewServer(runner, append(opts, WithLogger(logger))...))

	lis := bufconn.Listen(1 << 20)
	go g.Serve(lis)
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn), conn
}

func seed(v int64) *int64 { return &v }

// vacuumRequest keeps the system register empty, so every shot reads zero.
func vacuumRequest(s *int64) *EstimateRequest {
	return &EstimateRequest{
		UnitCells:        1,
		Intracell:        0.5,
		Intercell:        1.5,
		EvaluationQubits: 4,
		EvolutionTime:    2,
		TrotterSteps:     1,
		Shots:            256,
		Seed:             s,
	}
}

func codeOf(err error) codes.Code {
	return status.Code(err)
}

func TestEstimateCachesSeededRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	runs, err := registry.Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	client, _ := start(t,
		WithCache(cache.NewMemoryCache(), 0),
		WithRegistry(runs),
		WithMetrics(metrics))
	ctx := context.Background()

	first, err := client.Estimate(ctx, vacuumRequest(seed(5)))
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, map[string]int{"0000": 256}, first.Result.Counts)
	assert.Equal(t, int64(5), first.Result.Seed)
	require.NotNil(t, first.CompletedAt)
	require.NotNil(t, first.Elapsed)

	second, err := client.Estimate(ctx, vacuumRequest(seed(5)))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Result.RunID, second.Result.RunID)
	assert.Equal(t, first.Result.Counts, second.Result.Counts)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheMisses))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.requests.WithLabelValues("Estimate", "OK")))
	assert.Equal(t, 256.0, testutil.ToFloat64(metrics.shots))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheEntries))
	assert.Equal(t, 0.5, testutil.ToFloat64(metrics.cacheHitRate))

	list, err := client.ListRuns(ctx, &ListRunsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Runs, 1, "cache hits are not recorded again")
	assert.Equal(t, first.Result.RunID, list.Runs[0].ID)

	got, err := client.GetRun(ctx, &GetRunRequest{ID: first.Result.RunID})
	require.NoError(t, err)
	assert.Equal(t, first.Result.Counts, got.Run.Result.Counts)

	_, err = client.GetRun(ctx, &GetRunRequest{ID: "missing"})
	assert.Equal(t, codes.NotFound, codeOf(err))
}

func TestEstimateRefreshAndDeleteRun(t *testing.T) {
	runs, err := registry.Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })
	store := cache.NewMemoryCache()
	client, _ := start(t, WithCache(store, 0), WithRegistry(runs))
	ctx := context.Background()

	first, err := client.Estimate(ctx, vacuumRequest(seed(8)))
	require.NoError(t, err)

	req := vacuumRequest(seed(8))
	req.Refresh = true
	fresh, err := client.Estimate(ctx, req)
	require.NoError(t, err)
	assert.False(t, fresh.Cached)
	assert.NotEqual(t, first.Result.RunID, fresh.Result.RunID)

	again, err := client.Estimate(ctx, vacuumRequest(seed(8)))
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, fresh.Result.RunID, again.Result.RunID, "the refreshed result replaces the cached one")

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalEntries)

	_, err = client.DeleteRun(ctx, &DeleteRunRequest{ID: first.Result.RunID})
	require.NoError(t, err)
	list, err := client.ListRuns(ctx, &ListRunsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, fresh.Result.RunID, list.Runs[0].ID)

	_, err = client.DeleteRun(ctx, &DeleteRunRequest{ID: first.Result.RunID})
	assert.Equal(t, codes.NotFound, codeOf(err))
}

func TestEstimateUnseededIsNotCached(t *testing.T) {
	client, _ := start(t, WithCache(cache.NewMemoryCache(), 0))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		resp, err := client.Estimate(ctx, vacuumRequest(nil))
		require.NoError(t, err)
		assert.False(t, resp.Cached)
	}
}

func TestEstimateErrorCodes(t *testing.T) {
	client, _ := start(t)

	tests := []struct {
		name   string
		mutate func(*EstimateRequest)
		code   codes.Code
	}{
		{"no shots", func(r *EstimateRequest) { r.Shots = 0 }, codes.InvalidArgument},
		{"bad order", func(r *EstimateRequest) { r.TrotterOrder = "third" }, codes.InvalidArgument},
		{"bad initial", func(r *EstimateRequest) { r.InitialState = "middle" }, codes.InvalidArgument},
		{"no cells", func(r *EstimateRequest) { r.UnitCells = 0 }, codes.InvalidArgument},
		{"too wide", func(r *EstimateRequest) {
			r.UnitCells = 10
			r.EvaluationQubits = 3
		}, codes.ResourceExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := vacuumRequest(seed(1))
			tt.mutate(req)
			_, err := client.Estimate(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tt.code, codeOf(err), "%v", err)
		})
	}
}

func TestSweep(t *testing.T) {
	client, _ := start(t)
	resp, err := client.Sweep(context.Background(), &SweepRequest{
		Estimate: *vacuumRequest(seed(3)),
		Rates:    []float64{0, 0.05},
	})
	require.NoError(t, err)
	require.Len(t, resp.Points, 2)
	assert.Equal(t, 0.0, resp.Points[0].Spread)
	assert.Greater(t, resp.Points[1].Spread, 0.0)

	_, err = client.Sweep(context.Background(), &SweepRequest{
		Estimate: *vacuumRequest(seed(3)),
		Rates:    []float64{1.5},
	})
	assert.Equal(t, codes.InvalidArgument, codeOf(err))
}

func TestRegistryNotConfigured(t *testing.T) {
	client, _ := start(t)
	_, err := client.ListRuns(context.Background(), &ListRunsRequest{})
	assert.Equal(t, codes.Unimplemented, codeOf(err))
	_, err = client.DeleteRun(context.Background(), &DeleteRunRequest{ID: "x"})
	assert.Equal(t, codes.Unimplemented, codeOf(err))
}

func TestHealth(t *testing.T) {
	_, conn := start(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestRequestConversion(t *testing.T) {
	spec := pipeline.DefaultSpec()
	spec.Initial = circuit.EdgeExcitation(spec.Lattice.NumSites() - 1)
	spec.Seed = seed(9)

	req, err := NewEstimateRequest(spec)
	require.NoError(t, err)
	assert.Equal(t, "edge-right", req.InitialState)

	back, err := req.Spec()
	require.NoError(t, err)
	assert.Equal(t, spec, back)

	spec.Initial = circuit.Prepared([]complex128{1, 0, 0, 0})
	_, err = NewEstimateRequest(spec)
	assert.True(t, errdefs.IsInvalidParameter(err))
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{errors.Wrap(errdefs.InvalidParameter("shots", 0, "must be >= 1"), "pipeline"), codes.InvalidArgument},
		{errdefs.Execution("local", "too big", backends.ErrTooManyQubits), codes.ResourceExhausted},
		{errdefs.Execution("local", "cancelled", context.Canceled), codes.Canceled},
		{errdefs.Execution("local", "cancelled", context.DeadlineExceeded), codes.DeadlineExceeded},
		{errdefs.Execution("local", "simulation failed", errors.New("boom")), codes.Internal},
		{errors.Wrap(registry.ErrNotFound, "x"), codes.NotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, codeOf(toStatus(tt.err)), "%v", tt.err)
	}
}

func TestServeStopsWithContext(t *testing.T) {
	runner := pipeline.NewRunner(backends.NewLocalSimulatorBackend(), nil)
	g := NewGRPCServer(NewServer(runner))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Serve(ctx, g, ServeOptions{Listen: "127.0.0.1:0"}, zaptest.NewLogger(t))
	assert.NoError(t, err)

	err = Serve(context.Background(), NewGRPCServer(NewServer(runner)), ServeOptions{Listen: "256.0.0.1:1"}, nil)
	assert.Error(t, err)
}
