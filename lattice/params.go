// Package lattice builds the SSH chain Hamiltonian in its two representations:
// the real-space tight-binding matrix used by exact diagonalization, and the
// sum of two-local Pauli terms consumed by the quantum pipeline.
package lattice

import (
	"math"

	"github.com/perclft/sshqpe/errdefs"
)

// Parameters describes an open SSH chain of UnitCells cells, two sites each.
type Parameters struct {
	UnitCells int     `json:"unit_cells" yaml:"unit_cells"`
	Intracell float64 `json:"intracell_hopping" yaml:"intracell_hopping"` // v, bond inside a cell (A-B)
	Intercell float64 `json:"intercell_hopping" yaml:"intercell_hopping"` // w, bond between cells (B-A)
}

// NumSites is the chain length, one qubit per site.
func (p Parameters) NumSites() int {
	return 2 * p.UnitCells
}

// NumBonds is the number of nearest-neighbor bonds of the open chain.
func (p Parameters) NumBonds() int {
	return p.NumSites() - 1
}

// Hopping returns the amplitude of bond (i, i+1).
func (p Parameters) Hopping(bond int) float64 {
	if bond%2 == 0 {
		return p.Intracell
	}
	return p.Intercell
}

// Validate checks the parameter ranges.
func (p Parameters) Validate() error {
	if p.UnitCells < 1 {
		return errdefs.InvalidParameter("unit_cells", p.UnitCells, "must be >= 1")
	}
	if !finite(p.Intracell) {
		return errdefs.InvalidParameter("intracell_hopping", p.Intracell, "must be finite")
	}
	if !finite(p.Intercell) {
		return errdefs.InvalidParameter("intercell_hopping", p.Intercell, "must be finite")
	}
	return nil
}

// Topological reports whether the chain sits in the phase with edge modes.
func (p Parameters) Topological() bool {
	return math.Abs(p.Intercell) > math.Abs(p.Intracell)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
