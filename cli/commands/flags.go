package commands

import (
	"github.com/spf13/cobra"

	"github.com/perclft/sshqpe/config"
	"github.com/perclft/sshqpe/noise"
	"github.com/perclft/sshqpe/pipeline"
)

// runFlags override the run section of the config file. Only flags the user
// set are applied.
type runFlags struct {
	cells      int
	intracell  float64
	intercell  float64
	evalQubits int
	duration   float64
	order      string
	steps      int
	shots      int
	seed       int64
	initial    string
	noise      float64
	topK       int
	reference  string
	workers    int
}

func addRunFlags(cmd *cobra.Command) *runFlags {
	f := &runFlags{}
	d := config.Default().Run
	fs := cmd.Flags()
	fs.IntVarP(&f.cells, "cells", "N", d.Lattice.UnitCells, "number of unit cells")
	fs.Float64Var(&f.intracell, "intracell", d.Lattice.Intracell, "intracell hopping v")
	fs.Float64Var(&f.intercell, "intercell", d.Lattice.Intercell, "intercell hopping w")
	fs.IntVarP(&f.evalQubits, "eval-qubits", "n", d.EvaluationQubits, "evaluation qubits")
	fs.Float64VarP(&f.duration, "time", "t", d.Duration, "evolution time")
	fs.StringVar(&f.order, "order", d.Order, "product formula order (first|second)")
	fs.IntVar(&f.steps, "steps", d.Steps, "Trotter steps")
	fs.IntVar(&f.shots, "shots", d.Shots, "measurement shots")
	fs.Int64Var(&f.seed, "seed", 0, "sampling seed; unset draws one")
	fs.StringVar(&f.initial, "initial", d.Initial, "system initial state (zero|edge-left|edge-right)")
	fs.Float64Var(&f.noise, "noise", 0, "depolarizing error rate on single-qubit gates and CX")
	fs.IntVar(&f.topK, "top-k", d.TopK, "estimates to report")
	fs.StringVar(&f.reference, "reference", d.Reference, "reference eigenvalues (many-body|single-particle)")
	fs.IntVar(&f.workers, "workers", d.Workers, "sampling goroutines; 0 uses GOMAXPROCS")
	return f
}

func (f *runFlags) apply(cmd *cobra.Command, rc *config.RunConfig) {
	fs := cmd.Flags()
	if fs.Changed("cells") {
		rc.Lattice.UnitCells = f.cells
	}
	if fs.Changed("intracell") {
		rc.Lattice.Intracell = f.intracell
	}
	if fs.Changed("intercell") {
		rc.Lattice.Intercell = f.intercell
	}
	if fs.Changed("eval-qubits") {
		rc.EvaluationQubits = f.evalQubits
	}
	if fs.Changed("time") {
		rc.Duration = f.duration
	}
	if fs.Changed("order") {
		rc.Order = f.order
	}
	if fs.Changed("steps") {
		rc.Steps = f.steps
	}
	if fs.Changed("shots") {
		rc.Shots = f.shots
	}
	if fs.Changed("seed") {
		s := f.seed
		rc.Seed = &s
	}
	if fs.Changed("initial") {
		rc.Initial = f.initial
	}
	if fs.Changed("noise") {
		ch := noise.Uniform(f.noise)
		rc.Noise = &ch
	}
	if fs.Changed("top-k") {
		rc.TopK = f.topK
	}
	if fs.Changed("reference") {
		rc.Reference = f.reference
	}
	if fs.Changed("workers") {
		rc.Workers = f.workers
	}
}

func addBackendFlag(cmd *cobra.Command) *string {
	name := new(string)
	cmd.Flags().StringVar(name, "backend", config.Default().Run.Backend, "executor backend for local runs")
	return name
}

// backendName is the --backend flag when set, else the configured backend.
func backendName(cmd *cobra.Command, flag *string, cfg config.Config) string {
	if cmd.Flags().Changed("backend") {
		return *flag
	}
	return cfg.Run.Backend
}

// spec merges flags over the config and validates the result.
func (f *runFlags) spec(cmd *cobra.Command, cfg config.Config) (pipeline.Spec, error) {
	rc := cfg.Run
	f.apply(cmd, &rc)
	spec, err := rc.Spec()
	if err != nil {
		return spec, WrapExitError(ExitCommandError, "invalid run parameters", err)
	}
	return spec, nil
}
