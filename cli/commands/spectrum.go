package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/perclft/sshqpe/decoder"
	"github.com/perclft/sshqpe/errdefs"
	"github.com/perclft/sshqpe/lattice"
)

// SpectrumReport is the exact-diagonalization reference for one chain.
type SpectrumReport struct {
	Lattice          lattice.Parameters   `json:"lattice"`
	Topological      bool                 `json:"topological"`
	SingleParticle   []float64            `json:"single_particle"`
	EdgeModes        []float64            `json:"edge_modes"`
	BoundaryGap      float64              `json:"boundary_gap"`
	ManyBody         []float64            `json:"many_body,omitempty"`
	EvaluationQubits int                  `json:"evaluation_qubits,omitempty"`
	Duration         float64              `json:"evolution_time,omitempty"`
	// Outcomes[i] is the evaluation-register reading an ideal estimation
	// of ManyBody[i] peaks at.
	Outcomes []string             `json:"many_body_outcomes,omitempty"`
	Sweep    []lattice.SweepPoint `json:"sweep,omitempty"`
}

// maxOutcomeLines bounds the text listing; JSON output carries every level.
const maxOutcomeLines = 16

func NewSpectrumCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		cells     int
		intracell float64
		intercell float64
		sweep     bool
		wMin      float64
		wMax      float64
		points    int
	)
	cmd := &cobra.Command{
		Use:   "spectrum",
		Short: "Print the exact spectrum of the chain",
		Long: `Diagonalize the tight-binding matrix of the chain and list its
single-particle levels, the two levels nearest zero and the gap separating
them from the bulk. With --sweep, repeat over a range of intercell hoppings
to trace the phase diagram.`,
		Args: cobra.NoArgs,
	}
	fs := cmd.Flags()
	fs.IntVarP(&cells, "cells", "N", 0, "number of unit cells (default from config)")
	fs.Float64Var(&intracell, "intracell", 0, "intracell hopping v (default from config)")
	fs.Float64Var(&intercell, "intercell", 0, "intercell hopping w (default from config)")
	fs.BoolVar(&sweep, "sweep", false, "sweep the intercell hopping")
	fs.Float64Var(&wMin, "w-min", 0, "first intercell hopping of the sweep")
	fs.Float64Var(&wMax, "w-max", 2, "last intercell hopping of the sweep")
	fs.IntVar(&points, "points", 21, "sweep points")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		out := rootOpts.formatter(cmd)
		cfg, _, err := rootOpts.load()
		if err != nil {
			return out.Error(err)
		}
		p := cfg.Run.Lattice
		if fs.Changed("cells") {
			p.UnitCells = cells
		}
		if fs.Changed("intracell") {
			p.Intracell = intracell
		}
		if fs.Changed("intercell") {
			p.Intercell = intercell
		}

		report, err := buildSpectrum(p, cfg.Run.EvaluationQubits, cfg.Run.Duration)
		if err != nil {
			return out.Error(classify("spectrum", err))
		}
		if sweep {
			ws, err := linspace(wMin, wMax, points)
			if err != nil {
				return out.Error(classify("spectrum", err))
			}
			if report.Sweep, err = lattice.SweepIntercell(p, ws); err != nil {
				return out.Error(classify("spectrum", err))
			}
		}
		return out.Success(report, func(w io.Writer) error { return writeSpectrum(w, report) })
	}
	return cmd
}

func buildSpectrum(p lattice.Parameters, n int, duration float64) (*SpectrumReport, error) {
	single, err := lattice.SingleParticleSpectrum(p)
	if err != nil {
		return nil, err
	}
	r := &SpectrumReport{
		Lattice:        p,
		Topological:    p.Topological(),
		SingleParticle: single,
		EdgeModes:      lattice.NearestToZero(single, 2),
		BoundaryGap:    lattice.BoundaryGap(single),
	}
	if p.NumSites() <= lattice.MaxManyBodySites {
		if r.ManyBody, err = lattice.ManyBodySpectrum(single); err != nil {
			return nil, err
		}
		r.EvaluationQubits, r.Duration = n, duration
		r.Outcomes = make([]string, len(r.ManyBody))
		for i, e := range r.ManyBody {
			r.Outcomes[i] = decoder.Encode(e, duration, n)
		}
	}
	return r, nil
}

func linspace(lo, hi float64, n int) ([]float64, error) {
	if n < 1 {
		return nil, errdefs.InvalidParameter("points", n, "must be >= 1")
	}
	if n == 1 {
		return []float64{lo}, nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return out, nil
}

func writeSpectrum(w io.Writer, r *SpectrumReport) error {
	phase := "trivial"
	if r.Topological {
		phase = "topological"
	}
	fmt.Fprintf(w, "SSH chain N=%d v=%g w=%g (%s, %d sites)\n",
		r.Lattice.UnitCells, r.Lattice.Intracell, r.Lattice.Intercell, phase, r.Lattice.NumSites())
	fmt.Fprintln(w, "Single-particle levels:")
	for i, e := range r.SingleParticle {
		fmt.Fprintf(w, "  %3d  %+.6f\n", i, e)
	}
	fmt.Fprintf(w, "Levels nearest zero: %v\n", formatFloats(r.EdgeModes))
	fmt.Fprintf(w, "Boundary gap: %.6f\n", r.BoundaryGap)
	if len(r.ManyBody) > 0 {
		fmt.Fprintf(w, "Many-body: %d levels, ground %.6f, top %.6f\n",
			len(r.ManyBody), r.ManyBody[0], r.ManyBody[len(r.ManyBody)-1])
		fmt.Fprintf(w, "Expected outcomes (%d evaluation qubits, t=%g):\n", r.EvaluationQubits, r.Duration)
		for i := 0; i < len(r.ManyBody) && i < maxOutcomeLines; i++ {
			fmt.Fprintf(w, "  %+.6f  %s\n", r.ManyBody[i], r.Outcomes[i])
		}
		if len(r.ManyBody) > maxOutcomeLines {
			fmt.Fprintf(w, "  ... %d more\n", len(r.ManyBody)-maxOutcomeLines)
		}
	}
	if len(r.Sweep) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\n%-10s | %-12s | %s\n", "w", "Gap", "Nearest zero")
	fmt.Fprintln(w, "------------------------------------------------")
	for _, pt := range r.Sweep {
		fmt.Fprintf(w, "%-10.4f | %-12.6f | %s\n", pt.Intercell, pt.Gap,
			formatFloats(lattice.NearestToZero(pt.Energies, 2)))
	}
	return nil
}

func formatFloats(vs []float64) string {
	s := "["
	for i, v := range vs {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%+.6f", v)
	}
	return s + "]"
}
