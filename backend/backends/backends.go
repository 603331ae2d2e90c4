// Execution Backend Abstraction Layer
// One interface in front of every executor that can sample a measured circuit

package backends

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/perclft/sshqpe/backend/statevector"
	"github.com/perclft/sshqpe/circuit"
	"github.com/perclft/sshqpe/errdefs"
	"github.com/perclft/sshqpe/noise"
)

// ErrTooManyQubits is wrapped by the ExecutionError returned for circuits
// wider than MaxQubits.
var ErrTooManyQubits = errors.New("too many qubits")

// ------------------------------------------------------------------
// Unified Executor Interface
// ------------------------------------------------------------------

type Executor interface {
	Name() string
	Provider() string
	MaxQubits() int
	IsSimulator() bool

	// Execute samples the circuit's measurements. It blocks until every shot
	// is done or ctx ends; there are no partial results.
	Execute(ctx context.Context, c *circuit.Circuit, opts RunOptions) (*ExecutionResult, error)
}

type RunOptions struct {
	Shots int
	// Seed makes the run reproducible. Nil draws a fresh seed, reported in
	// the result.
	Seed *int64
	// Noise is applied after every gate it covers. Nil means ideal.
	Noise *noise.Model
	// Workers bounds concurrent shot chunks; <= 0 uses GOMAXPROCS.
	Workers int
}

type ExecutionResult struct {
	JobID        string         `json:"job_id"`
	Counts       map[string]int `json:"counts"` // clbit n-1 first
	Shots        int            `json:"shots"`
	Seed         int64          `json:"seed"`
	Trajectories int            `json:"trajectories"` // shots re-simulated with injected errors
	TimeUsed     time.Duration  `json:"time_used"`
	BackendName  string         `json:"backend_name"`
}

// ------------------------------------------------------------------
// Local Statevector Backend
// ------------------------------------------------------------------

const (
	// DefaultMaxQubits keeps one state vector at 64 MiB.
	DefaultMaxQubits = 22
	// DefaultChunkShots is the shot block handed to one worker. Each block
	// has its own seed, so results do not depend on scheduling.
	DefaultChunkShots = 128

	chunkSeedStride = 0x9E3779B9
	ctxCheckGates   = 1 << 12
)

type LocalSimulatorBackend struct {
	maxQubits  int
	chunkShots int
	logger     *zap.Logger

	// chunkTrace, when set, sees +1 as a chunk starts and -1 as it ends.
	chunkTrace func(delta int)
}

type Option func(*LocalSimulatorBackend)

func WithMaxQubits(n int) Option {
	return func(b *LocalSimulatorBackend) { b.maxQubits = n }
}

func WithChunkShots(n int) Option {
	return func(b *LocalSimulatorBackend) {
		if n > 0 {
			b.chunkShots = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(b *LocalSimulatorBackend) {
		if l != nil {
			b.logger = l
		}
	}
}

func NewLocalSimulatorBackend(opts ...Option) *LocalSimulatorBackend {
	b := &LocalSimulatorBackend{
		maxQubits:  DefaultMaxQubits,
		chunkShots: DefaultChunkShots,
		logger:     zap.L(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *LocalSimulatorBackend) Name() string      { return "local-statevector" }
func (b *LocalSimulatorBackend) Provider() string  { return "sshqpe" }
func (b *LocalSimulatorBackend) MaxQubits() int    { return b.maxQubits }
func (b *LocalSimulatorBackend) IsSimulator() bool { return true }

func (b *LocalSimulatorBackend) Execute(ctx context.Context, c *circuit.Circuit, opts RunOptions) (*ExecutionResult, error) {
	start := time.Now()
	if opts.Shots <= 0 {
		return nil, errdefs.InvalidParameter("shots", opts.Shots, "must be >= 1")
	}
	if c.NumQubits > b.maxQubits {
		return nil, errdefs.Execution(b.Name(),
			fmt.Sprintf("circuit needs %d qubits, limit is %d", c.NumQubits, b.maxQubits), ErrTooManyQubits)
	}
	if err := c.Validate(); err != nil {
		return nil, errdefs.Execution(b.Name(), "invalid circuit", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errdefs.Execution(b.Name(), "cancelled", err)
	}

	seed := time.Now().UnixNano()
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	measured := c.MeasuredQubits()
	plan := opts.Noise.Compile(c)

	ideal := statevector.New(c.NumQubits)
	if err := run(ctx, ideal, c, nil); err != nil {
		return nil, b.wrap(err)
	}
	sampler := statevector.NewSampler(ideal.Marginal(measured))

	numChunks := (opts.Shots + b.chunkShots - 1) / b.chunkShots
	histograms := make([]map[int]int, numChunks)
	trajectories := make([]int, numChunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(opts.Workers))
	for ci := 0; ci < numChunks; ci++ {
		shots := b.chunkShots
		if ci == numChunks-1 {
			shots = opts.Shots - ci*b.chunkShots
		}
		ci := ci
		g.Go(func() error {
			if b.chunkTrace != nil {
				b.chunkTrace(1)
				defer b.chunkTrace(-1)
			}
			rng := rand.New(rand.NewSource(seed + int64(ci)*chunkSeedStride))
			hist := make(map[int]int)
			var st *statevector.State
			var events []noise.Event
			for s := 0; s < shots; s++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				events = plan.SampleEvents(rng, events)
				if len(events) == 0 {
					hist[sampler.Sample(rng)]++
					continue
				}
				if st == nil {
					st = statevector.New(c.NumQubits)
				} else {
					st.Reset()
				}
				if err := run(gctx, st, c, events); err != nil {
					return err
				}
				trajectories[ci]++
				hist[statevector.NewSampler(st.Marginal(measured)).Sample(rng)]++
			}
			histograms[ci] = hist
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, b.wrap(err)
	}

	res := &ExecutionResult{
		JobID:       uuid.NewString(),
		Counts:      make(map[string]int),
		Shots:       opts.Shots,
		Seed:        seed,
		BackendName: b.Name(),
	}
	width := c.NumClbits
	for ci, hist := range histograms {
		for k, n := range hist {
			res.Counts[fmt.Sprintf("%0*b", width, k)] += n
		}
		res.Trajectories += trajectories[ci]
	}
	res.TimeUsed = time.Since(start)

	b.logger.Debug("circuit executed",
		zap.String("job_id", res.JobID),
		zap.Int("qubits", c.NumQubits),
		zap.Int("gates", len(c.Gates)),
		zap.Int("shots", opts.Shots),
		zap.Int("trajectories", res.Trajectories),
		zap.Int64("seed", seed),
		zap.Duration("elapsed", res.TimeUsed))
	return res, nil
}

// workerLimit caps concurrent chunks. Every noisy chunk holds its own state
// vector, so the cap also bounds memory.
func workerLimit(workers int) int {
	if workers > 0 {
		return workers
	}
	return runtime.GOMAXPROCS(0)
}

func (b *LocalSimulatorBackend) wrap(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errdefs.Execution(b.Name(), "cancelled", err)
	}
	return errdefs.Execution(b.Name(), "simulation failed", err)
}

// run applies c's gates to st, injecting each event right after its gate.
func run(ctx context.Context, st *statevector.State, c *circuit.Circuit, events []noise.Event) error {
	next := 0
	for i, g := range c.Gates {
		if i%ctxCheckGates == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := circuit.Apply(st, g); err != nil {
			return errors.Wrapf(err, "gate %d", i)
		}
		for next < len(events) && events[next].Gate == i {
			e := events[next]
			for j, q := range e.Qubits {
				st.Pauli(q, e.Paulis[j])
			}
			next++
		}
	}
	return nil
}

// ------------------------------------------------------------------
// Backend Registry
// ------------------------------------------------------------------

type BackendRegistry struct {
	mu       sync.RWMutex
	backends map[string]Executor
}

func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{
		backends: make(map[string]Executor),
	}
}

// DefaultRegistry holds the local simulator under "local".
func DefaultRegistry(logger *zap.Logger) *BackendRegistry {
	r := NewBackendRegistry()
	r.Register("local", NewLocalSimulatorBackend(WithLogger(logger)))
	return r
}

func (r *BackendRegistry) Register(name string, backend Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = backend
}

func (r *BackendRegistry) Get(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Lookup is Get with an InvalidParameter error naming the known backends.
func (r *BackendRegistry) Lookup(name string) (Executor, error) {
	if b, ok := r.Get(name); ok {
		return b, nil
	}
	return nil, errdefs.InvalidParameter("backend", name,
		fmt.Sprintf("unknown backend (known: %s)", strings.Join(r.List(), ", ")))
}

func (r *BackendRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
