// Package pipeline runs the full estimation: chain parameters to qubit
// operator, product formula, phase-estimation circuit, sampling, and decoding
// against classical reference eigenvalues.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/perclft/sshqpe/backend/backends"
	"github.com/perclft/sshqpe/circuit"
	"github.com/perclft/sshqpe/decoder"
	"github.com/perclft/sshqpe/errdefs"
	"github.com/perclft/sshqpe/evolution"
	"github.com/perclft/sshqpe/lattice"
	"github.com/perclft/sshqpe/noise"
)

// ReferenceKind picks the classical eigenvalues estimates are compared with.
type ReferenceKind string

const (
	// ReferenceManyBody lists every eigenvalue of the qubit operator.
	ReferenceManyBody ReferenceKind = "many-body"
	// ReferenceSingleParticle lists the tight-binding eigenvalues.
	ReferenceSingleParticle ReferenceKind = "single-particle"
)

// Spec is one complete estimation run.
type Spec struct {
	Lattice          lattice.Parameters   `json:"lattice"`
	EvaluationQubits int                  `json:"evaluation_qubits"`
	Duration         float64              `json:"evolution_time"`
	Order            evolution.Order      `json:"trotter_order"`
	Steps            int                  `json:"trotter_steps"`
	Shots            int                  `json:"shots"`
	Seed             *int64               `json:"seed,omitempty"`
	Initial          circuit.InitialState `json:"initial_state"`
	Noise            *noise.ChannelSpec   `json:"noise,omitempty"`
	TopK             int                  `json:"top_k"`
	Reference        ReferenceKind        `json:"reference"`
	Workers          int                  `json:"-"`
}

// DefaultSpec is the high-resolution run: two unit cells in the topological
// phase, eight evaluation qubits, t = 10, one Lie-Trotter step.
func DefaultSpec() Spec {
	return Spec{
		Lattice:          lattice.Parameters{UnitCells: 2, Intracell: 0.5, Intercell: 1.5},
		EvaluationQubits: 8,
		Duration:         10,
		Order:            evolution.First,
		Steps:            1,
		Shots:            4096,
		Initial:          circuit.Zero(),
		TopK:             decoder.DefaultTopK,
		Reference:        ReferenceManyBody,
	}
}

// Validate checks what no later stage checks itself.
func (s Spec) Validate() error {
	if err := s.Lattice.Validate(); err != nil {
		return err
	}
	if s.Shots < 1 {
		return errdefs.InvalidParameter("shots", s.Shots, "must be >= 1")
	}
	if s.TopK < 0 {
		return errdefs.InvalidParameter("top_k", s.TopK, "must be >= 0")
	}
	switch s.Reference {
	case "", ReferenceManyBody, ReferenceSingleParticle:
	default:
		return errdefs.InvalidParameter("reference", string(s.Reference), "must be many-body or single-particle")
	}
	if s.Noise != nil {
		if err := s.Noise.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Result is everything a run produced.
type Result struct {
	RunID          string             `json:"run_id"`
	Spec           Spec               `json:"spec"`
	Backend        string             `json:"backend"`
	NumQubits      int                `json:"num_qubits"`
	GateCount      int                `json:"gate_count"`
	GateCounts     map[string]int     `json:"gate_counts"`
	Seed           int64              `json:"seed"`
	Trajectories   int                `json:"trajectories"`
	Counts         map[string]int     `json:"counts"`
	Estimates      []decoder.Estimate `json:"estimates"`
	Spread         float64            `json:"spread"`
	Resolution     float64            `json:"resolution"`
	Reference      []float64          `json:"reference"`
	SingleParticle []float64          `json:"single_particle"`
	Elapsed        time.Duration      `json:"elapsed"`
}

// BuildCircuit returns the phase-estimation circuit of spec lowered to the
// basis gates.
func BuildCircuit(spec Spec) (*circuit.Circuit, error) {
	h, err := lattice.Build(spec.Lattice)
	if err != nil {
		return nil, err
	}
	qpe, err := circuit.BuildPhaseEstimation(circuit.EstimationSpec{
		EvaluationQubits: spec.EvaluationQubits,
		Evolution: evolution.Spec{
			Hamiltonian: h,
			Duration:    spec.Duration,
			Order:       spec.Order,
			Steps:       spec.Steps,
		},
		Initial: spec.Initial,
	})
	if err != nil {
		return nil, err
	}
	return circuit.Decompose(qpe), nil
}

// Runner executes specs on one backend. It holds no per-run state and is
// safe for concurrent use.
type Runner struct {
	backend backends.Executor
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewRunner(backend backends.Executor, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		backend: backend,
		logger:  logger.Named("pipeline"),
		tracer:  otel.Tracer("github.com/perclft/sshqpe/pipeline"),
	}
}

// Run executes one spec end to end.
func (r *Runner) Run(ctx context.Context, spec Spec) (res *Result, err error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.Int("unit_cells", spec.Lattice.UnitCells),
		attribute.Float64("intracell_hopping", spec.Lattice.Intracell),
		attribute.Float64("intercell_hopping", spec.Lattice.Intercell),
		attribute.Int("evaluation_qubits", spec.EvaluationQubits),
		attribute.Int("shots", spec.Shots),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := spec.Validate(); err != nil {
		return nil, errors.Wrap(err, "pipeline")
	}
	if spec.TopK == 0 {
		spec.TopK = decoder.DefaultTopK
	}
	if spec.Reference == "" {
		spec.Reference = ReferenceManyBody
	}
	runID := uuid.NewString()
	log := r.logger.With(zap.String("run_id", runID))

	_, cspan := r.tracer.Start(ctx, "pipeline.BuildCircuit")
	transpiled, err := BuildCircuit(spec)
	if err != nil {
		cspan.End()
		return nil, err
	}
	cspan.SetAttributes(attribute.Int("gates", len(transpiled.Gates)))
	cspan.End()
	log.Debug("circuit built",
		zap.Int("qubits", transpiled.NumQubits),
		zap.Int("gates", len(transpiled.Gates)),
		zap.Any("ops", transpiled.CountOps()))

	var model *noise.Model
	if spec.Noise != nil {
		if model, err = noise.NewModel(*spec.Noise); err != nil {
			return nil, err
		}
	}

	ectx, espan := r.tracer.Start(ctx, "pipeline.Execute", trace.WithAttributes(
		attribute.String("backend", r.backend.Name()),
		attribute.String("noise", model.String()),
	))
	exec, err := r.backend.Execute(ectx, transpiled, backends.RunOptions{
		Shots:   spec.Shots,
		Seed:    spec.Seed,
		Noise:   model,
		Workers: spec.Workers,
	})
	espan.End()
	if err != nil {
		return nil, err
	}
	log.Debug("circuit executed", zap.String("job_id", exec.JobID), zap.Duration("elapsed", exec.TimeUsed))

	single, err := lattice.SingleParticleSpectrum(spec.Lattice)
	if err != nil {
		return nil, err
	}
	reference := single
	if spec.Reference == ReferenceManyBody {
		if reference, err = lattice.ManyBodySpectrum(single); err != nil {
			return nil, err
		}
	}

	estimates, err := decoder.Decode(exec.Counts, decoder.Options{
		Duration:  spec.Duration,
		Reference: reference,
		TopK:      spec.TopK,
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	spread, err := decoder.Spread(exec.Counts)
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	res = &Result{
		RunID:          runID,
		Spec:           spec,
		Backend:        exec.BackendName,
		NumQubits:      transpiled.NumQubits,
		GateCount:      len(transpiled.Gates),
		GateCounts:     transpiled.CountOps(),
		Seed:           exec.Seed,
		Trajectories:   exec.Trajectories,
		Counts:         exec.Counts,
		Estimates:      estimates,
		Spread:         spread,
		Resolution:     decoder.Resolution(spec.EvaluationQubits, spec.Duration),
		Reference:      reference,
		SingleParticle: single,
		Elapsed:        time.Since(start),
	}
	fields := []zap.Field{
		zap.Int("shots", spec.Shots),
		zap.Float64("spread", spread),
		zap.Duration("elapsed", res.Elapsed),
	}
	if len(estimates) > 0 {
		fields = append(fields,
			zap.String("top_bitstring", estimates[0].Bitstring),
			zap.Float64("top_energy", estimates[0].Energy))
	}
	log.Info("estimation finished", fields...)
	return res, nil
}
