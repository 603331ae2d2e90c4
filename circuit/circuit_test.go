package circuit

import (
	"math"
	"math/cmplx"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perclft/sshqpe/backend/statevector"
	"github.com/perclft/sshqpe/errdefs"
	"github.com/perclft/sshqpe/evolution"
	"github.com/perclft/sshqpe/lattice"
)

func dimer(t *testing.T, v float64) *lattice.Hamiltonian {
	t.Helper()
	h, err := lattice.Build(lattice.Parameters{UnitCells: 1, Intracell: v, Intercell: 1})
	require.NoError(t, err)
	return h
}

func estimation(t *testing.T, n int, duration float64, initial InitialState) *Circuit {
	t.Helper()
	c, err := BuildPhaseEstimation(EstimationSpec{
		EvaluationQubits: n,
		Evolution:        evolution.Spec{Hamiltonian: dimer(t, 0.25), Duration: duration, Order: evolution.First, Steps: 1},
		Initial:          initial,
	})
	require.NoError(t, err)
	return c
}

func TestBuildPhaseEstimationLayout(t *testing.T) {
	c := estimation(t, 3, 1, Zero())
	require.NoError(t, c.Validate())

	assert.Equal(t, 5, c.NumQubits)
	assert.Equal(t, 3, c.NumClbits)
	assert.Equal(t, []Measurement{{0, 0}, {1, 1}, {2, 2}}, c.Measurements)
	assert.Equal(t, []int{0, 1, 2}, c.MeasuredQubits())

	ops := c.CountOps()
	assert.Equal(t, 14, ops[GateCRZ], "two terms, 1+2+4 repetitions")
	assert.Equal(t, 28, ops[GateCX])
	assert.Equal(t, 62, ops[GateH])
	assert.Equal(t, 14, ops[GateS])
	assert.Equal(t, 14, ops[GateSdg])
	assert.Equal(t, 3, ops[GateCP])
	assert.Equal(t, 1, ops[GateSWAP])

	for _, g := range c.Gates {
		if g.Name == GateCRZ {
			assert.Less(t, g.Qubits[0], 3, "control is an evaluation qubit")
			assert.GreaterOrEqual(t, g.Qubits[1], 3, "target is a system qubit")
		}
	}
	assert.Equal(t, "first", c.Metadata["trotter_order"])
}

func TestBuildPhaseEstimationRejectsInvalid(t *testing.T) {
	h := dimer(t, 1)
	evo := evolution.Spec{Hamiltonian: h, Duration: 1, Order: evolution.First, Steps: 1}

	_, err := BuildPhaseEstimation(EstimationSpec{EvaluationQubits: 0, Evolution: evo})
	assert.True(t, errdefs.IsInvalidParameter(err))
	assert.Contains(t, err.Error(), "evaluation_qubits")

	_, err = BuildPhaseEstimation(EstimationSpec{EvaluationQubits: 2, Evolution: evo, Initial: EdgeExcitation(3)})
	assert.True(t, errdefs.IsInvalidParameter(err))

	_, err = BuildPhaseEstimation(EstimationSpec{EvaluationQubits: 2, Evolution: evo, Initial: Prepared([]complex128{1, 0})})
	assert.True(t, errdefs.IsInvalidParameter(err))

	bad := evo
	bad.Steps = 0
	_, err = BuildPhaseEstimation(EstimationSpec{EvaluationQubits: 2, Evolution: bad})
	assert.True(t, errdefs.IsInvalidParameter(err))
}

func TestEdgeExcitation(t *testing.T) {
	c := estimation(t, 2, 1, EdgeExcitation(1))
	var xs []GateOp
	for _, g := range c.Gates {
		if g.Name == GateX {
			xs = append(xs, g)
		}
	}
	require.Len(t, xs, 1)
	assert.Equal(t, []int{3}, xs[0].Qubits)
}

func TestParseInitial(t *testing.T) {
	s, err := ParseInitial("edge-right", 4)
	require.NoError(t, err)
	assert.Equal(t, EdgeExcitation(3), s)

	s, err = ParseInitial("", 4)
	require.NoError(t, err)
	assert.Equal(t, InitialZero, s.Kind)

	_, err = ParseInitial("bulk", 4)
	assert.True(t, errdefs.IsInvalidParameter(err))
}

func TestFourierDecode(t *testing.T) {
	const n, j = 3, 5
	dim := 1 << n
	s := &statevector.State{NumQubits: n, Amplitudes: make([]complex128, dim)}
	for x := range s.Amplitudes {
		s.Amplitudes[x] = cmplx.Exp(complex(0, -2*math.Pi*j*float64(x)/float64(dim))) / complex(math.Sqrt(float64(dim)), 0)
	}

	c := New(n, n)
	fourierDecode(c, n)
	for _, g := range c.Gates {
		require.NoError(t, Apply(s, g))
	}
	probs := s.Marginal([]int{0, 1, 2})
	assert.InDelta(t, 1, probs[j], 1e-9)
}

func TestPhaseEstimationSign(t *testing.T) {
	// On a single bond the symmetric and antisymmetric one-excitation states
	// have energies +v and -v, and the product formula is exact. With
	// t = 2π and v = 0.25 the phases are 0.25 and 0.75 exactly.
	r := complex(1/math.Sqrt2, 0)
	tests := []struct {
		name string
		amps []complex128
		want int
	}{
		{"positive energy", []complex128{0, r, r, 0}, 2},
		{"negative energy", []complex128{0, r, -r, 0}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := estimation(t, 3, 2*math.Pi, Prepared(tt.amps))
			s, err := Simulate(Decompose(c))
			require.NoError(t, err)
			probs := s.Marginal(c.MeasuredQubits())
			assert.InDelta(t, 1, probs[tt.want], 1e-9)
		})
	}
}

func TestDecomposePreservesState(t *testing.T) {
	c := estimation(t, 2, 1.7, EdgeExcitation(0))
	d := Decompose(c)

	allowed := map[string]bool{}
	for _, name := range BasisGates {
		allowed[name] = true
	}
	for _, g := range d.Gates {
		assert.True(t, allowed[g.Name], "gate %s left after decompose", g.Name)
	}
	assert.Equal(t, c.Measurements, d.Measurements)
	assert.Equal(t, true, d.Metadata["transpiled"])
	_, marked := c.Metadata["transpiled"]
	assert.False(t, marked)

	a, err := Simulate(c)
	require.NoError(t, err)
	b, err := Simulate(d)
	require.NoError(t, err)
	for i := range a.Amplitudes {
		assert.InDelta(t, 0, cmplx.Abs(a.Amplitudes[i]-b.Amplitudes[i]), 1e-9)
	}
}

func TestValidateRejectsBadGates(t *testing.T) {
	c := New(2, 1)
	c.CX(0, 0)
	c.Measure(0, 0)
	assert.Error(t, c.Validate())

	c = New(2, 1)
	c.H(2)
	c.Measure(0, 0)
	assert.Error(t, c.Validate())

	c = New(2, 2)
	c.H(0)
	c.Measure(0, 0)
	c.Measure(1, 0)
	assert.Error(t, c.Validate())

	c = New(1, 1)
	c.Gates = append(c.Gates, GateOp{Name: "RX", Qubits: []int{0}, Params: []float64{1}})
	c.Measure(0, 0)
	assert.Error(t, c.Validate())
}

func TestToQASM(t *testing.T) {
	c := New(2, 1)
	c.H(0)
	c.CRZ(0, 1, 0.5)
	c.Measure(0, 0)

	out, err := ToQASM(c)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "OPENQASM 3.0;\n"))
	assert.Contains(t, out, "qubit[2] q;\nbit[1] c;\n")
	assert.Contains(t, out, "h q[0];\n")
	assert.Contains(t, out, "crz(0.5) q[0], q[1];\n")
	assert.Contains(t, out, "c[0] = measure q[0];\n")

	c.Init([]int{1}, []complex128{0, 1})
	_, err = ToQASM(c)
	assert.Error(t, err)
}
