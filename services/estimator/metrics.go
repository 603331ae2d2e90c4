package estimator

import (
	"context"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/perclft/sshqpe/services/cache"
)

// Metrics are the estimator's Prometheus collectors.
type Metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inflight    prometheus.Gauge
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	spread      prometheus.Histogram
	shots       prometheus.Counter

	factory      promauto.Factory
	cacheEntries prometheus.GaugeFunc
	cacheHitRate prometheus.GaugeFunc
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sshqpe_estimator_requests_total",
			Help: "Estimator RPCs by method and status code.",
		}, []string{"method", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sshqpe_estimator_request_duration_seconds",
			Help:    "Estimator RPC latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
		}, []string{"method"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "sshqpe_estimator_inflight_requests",
			Help: "Estimator RPCs currently executing.",
		}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "sshqpe_estimator_cache_hits_total",
			Help: "Seeded estimates answered from the result cache.",
		}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "sshqpe_estimator_cache_misses_total",
			Help: "Seeded estimates not found in the result cache.",
		}),
		spread: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sshqpe_estimator_phase_spread",
			Help:    "Standard deviation of the measured evaluation-register outcomes.",
			Buckets: prometheus.LinearBuckets(0, 8, 16),
		}),
		shots: f.NewCounter(prometheus.CounterOpts{
			Name: "sshqpe_estimator_shots_total",
			Help: "Shots sampled by completed estimates.",
		}),
		factory: f,
	}
}

// watchCache exports the live entry count and hit rate of c, read from
// Cache.Stats at scrape time.
func (m *Metrics) watchCache(c cache.Cache) {
	stat := func(pick func(cache.Stats) float64) func() float64 {
		return func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			st, err := c.Stats(ctx)
			if err != nil {
				return math.NaN()
			}
			return pick(st)
		}
	}
	m.cacheEntries = m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sshqpe_estimator_cache_entries",
		Help: "Live entries in the result cache.",
	}, stat(func(st cache.Stats) float64 { return float64(st.TotalEntries) }))
	m.cacheHitRate = m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sshqpe_estimator_cache_hit_ratio",
		Help: "Share of result cache lookups that hit.",
	}, stat(func(st cache.Stats) float64 { return st.HitRate }))
}

// UnaryInterceptor counts and times every RPC.
func (m *Metrics) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := methodName(info.FullMethod)
		m.inflight.Inc()
		start := time.Now()
		resp, err := handler(ctx, req)
		m.inflight.Dec()
		m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		m.requests.WithLabelValues(method, status.Code(err).String()).Inc()
		return resp, err
	}
}

func methodName(full string) string {
	for i := len(full) - 1; i >= 0; i-- {
		if full[i] == '/' {
			return full[i+1:]
		}
	}
	return full
}
