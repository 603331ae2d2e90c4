package circuit

import (
	"math"

	"github.com/pkg/errors"

	"github.com/perclft/sshqpe/errdefs"
	"github.com/perclft/sshqpe/evolution"
	"github.com/perclft/sshqpe/lattice"
)

// MaxEvaluationQubits bounds the evaluation register; qubit k repeats the
// evolution 2^k times, so the circuit grows as 2^n.
const MaxEvaluationQubits = 16

// EstimationSpec describes one phase-estimation circuit.
type EstimationSpec struct {
	EvaluationQubits int
	Evolution        evolution.Spec
	Initial          InitialState
}

// BuildPhaseEstimation lays out evaluation qubits 0..n-1 and system qubits
// n..n+m-1. Evaluation qubit k controls the evolution repeated 2^k times and
// is measured into classical bit k.
//
// The controlled evolutions leave the evaluation register in
// sum_x exp(-2πi·φ·x)|x> for an eigenstate of energy E, with φ = E·t/2π.
// The closing transform maps that to |round(φ·2^n) mod 2^n>, so reading the
// classical bits as an unsigned integer gives φ directly.
func BuildPhaseEstimation(spec EstimationSpec) (*Circuit, error) {
	n := spec.EvaluationQubits
	if n < 1 || n > MaxEvaluationQubits {
		return nil, errdefs.InvalidParameter("evaluation_qubits", n, "must be between 1 and 16")
	}
	rots, err := evolution.Synthesize(spec.Evolution)
	if err != nil {
		return nil, errors.Wrap(err, "build phase estimation")
	}
	m := spec.Evolution.Hamiltonian.NumQubits
	if err := spec.Initial.validate(m); err != nil {
		return nil, errors.Wrap(err, "build phase estimation")
	}

	c := New(n+m, n)
	c.Metadata["evaluation_qubits"] = n
	c.Metadata["system_qubits"] = m
	c.Metadata["evolution_time"] = spec.Evolution.Duration
	c.Metadata["trotter_order"] = spec.Evolution.Order.String()
	c.Metadata["trotter_steps"] = spec.Evolution.Steps
	c.Metadata["initial_state"] = spec.Initial.String()

	for k := 0; k < n; k++ {
		c.H(k)
	}
	spec.Initial.prepare(c, n, m)

	for k := 0; k < n; k++ {
		for rep := 0; rep < 1<<k; rep++ {
			for _, r := range rots {
				controlledRotation(c, k, n+r.Term.Sites[0], n+r.Term.Sites[1], r.Term.Label, r.Angle)
			}
		}
	}

	fourierDecode(c, n)
	for k := 0; k < n; k++ {
		c.Measure(k, k)
	}
	return c, nil
}

// controlledRotation appends controlled exp(-iθ P_a P_b). The Pauli pair is
// rotated onto ZZ, whose exponential is CX·RZ(2θ)·CX; only the RZ needs the
// control.
func controlledRotation(c *Circuit, control, a, b int, label lattice.Label, theta float64) {
	yy := label == lattice.LabelYY
	if yy {
		c.Sdg(a)
		c.Sdg(b)
	}
	c.H(a)
	c.H(b)
	c.CX(a, b)
	c.CRZ(control, b, 2*theta)
	c.CX(a, b)
	c.H(a)
	c.H(b)
	if yy {
		c.S(a)
		c.S(b)
	}
}

// fourierDecode appends the transform taking sum_x exp(-2πi·j·x/N)|x> to
// |j> on qubits 0..n-1, N = 2^n.
func fourierDecode(c *Circuit, n int) {
	for j := n - 1; j >= 0; j-- {
		c.H(j)
		for k := j - 1; k >= 0; k-- {
			c.CP(j, k, math.Pi/float64(int(1)<<(j-k)))
		}
	}
	for i := 0; i < n/2; i++ {
		c.SWAP(i, n-1-i)
	}
}
