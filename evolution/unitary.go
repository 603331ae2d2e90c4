package evolution

import (
	"math"
	"math/cmplx"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/perclft/sshqpe/backend/statevector"
	"github.com/perclft/sshqpe/lattice"
)

// Apply runs the rotations on s. System qubit i of the Hamiltonian is qubit
// offset+i of the state.
func Apply(s *statevector.State, rots []Rotation, offset int) {
	for _, r := range rots {
		s.RotatePair(offset+r.Term.Sites[0], offset+r.Term.Sites[1], r.Term.Label == lattice.LabelYY, r.Angle)
	}
}

// TrotterUnitary returns the dense matrix of the synthesized product formula.
func TrotterUnitary(s Spec) (*mat.CDense, error) {
	rots, err := Synthesize(s)
	if err != nil {
		return nil, err
	}
	n := s.Hamiltonian.NumQubits
	dim := s.Hamiltonian.Dim()
	u := mat.NewCDense(dim, dim, nil)
	for x := 0; x < dim; x++ {
		col := statevector.Basis(n, x)
		Apply(col, rots, 0)
		for y, a := range col.Amplitudes {
			u.Set(y, x, a)
		}
	}
	return u, nil
}

// ExactUnitary returns exp(-iHt) from the eigendecomposition of the qubit
// operator.
func ExactUnitary(h *lattice.Hamiltonian, duration float64) (*mat.CDense, error) {
	vals, vecs, err := lattice.Eigensystem(h.Matrix())
	if err != nil {
		return nil, errors.Wrap(err, "exact evolution")
	}
	dim := len(vals)
	phases := make([]complex128, dim)
	for k, e := range vals {
		phases[k] = cmplx.Exp(complex(0, -e*duration))
	}
	u := mat.NewCDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			var sum complex128
			for k := 0; k < dim; k++ {
				sum += complex(vecs.At(i, k)*vecs.At(j, k), 0) * phases[k]
			}
			u.Set(i, j, sum)
		}
	}
	return u, nil
}

// TrotterError is the largest 2-norm distance between matching columns of
// the product formula and the exact propagator, i.e. the worst deviation
// over computational basis inputs.
func TrotterError(s Spec) (float64, error) {
	approx, err := TrotterUnitary(s)
	if err != nil {
		return 0, err
	}
	exact, err := ExactUnitary(s.Hamiltonian, s.Duration)
	if err != nil {
		return 0, err
	}
	dim, _ := exact.Dims()
	var worst float64
	for x := 0; x < dim; x++ {
		var sum float64
		for y := 0; y < dim; y++ {
			d := approx.At(y, x) - exact.At(y, x)
			sum += real(d)*real(d) + imag(d)*imag(d)
		}
		worst = math.Max(worst, math.Sqrt(sum))
	}
	return worst, nil
}
