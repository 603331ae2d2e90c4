// Package statevector is the dense amplitude kernel behind the local
// simulator backend. Qubit q is bit q of the basis index.
package statevector

import (
	"math"
	"math/cmplx"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// State holds 2^NumQubits amplitudes.
type State struct {
	NumQubits  int
	Amplitudes []complex128
}

// New returns |0...0> on n qubits.
func New(n int) *State {
	amps := make([]complex128, 1<<n)
	amps[0] = 1
	return &State{NumQubits: n, Amplitudes: amps}
}

// Basis returns the computational basis state |x> on n qubits.
func Basis(n, x int) *State {
	s := &State{NumQubits: n, Amplitudes: make([]complex128, 1<<n)}
	s.Amplitudes[x] = 1
	return s
}

// Reset returns the state to |0...0> without reallocating.
func (s *State) Reset() {
	for i := range s.Amplitudes {
		s.Amplitudes[i] = 0
	}
	s.Amplitudes[0] = 1
}

// Clone copies the state.
func (s *State) Clone() *State {
	amps := make([]complex128, len(s.Amplitudes))
	copy(amps, s.Amplitudes)
	return &State{NumQubits: s.NumQubits, Amplitudes: amps}
}

// ------------------------------------------------------------------
// Single-qubit gates
// ------------------------------------------------------------------

func (s *State) H(q int) {
	f := complex(1/math.Sqrt2, 0)
	bit := 1 << q
	for i := range s.Amplitudes {
		if i&bit == 0 {
			j := i | bit
			a, b := s.Amplitudes[i], s.Amplitudes[j]
			s.Amplitudes[i] = f * (a + b)
			s.Amplitudes[j] = f * (a - b)
		}
	}
}

func (s *State) X(q int) {
	bit := 1 << q
	for i := range s.Amplitudes {
		if i&bit == 0 {
			j := i | bit
			s.Amplitudes[i], s.Amplitudes[j] = s.Amplitudes[j], s.Amplitudes[i]
		}
	}
}

func (s *State) Y(q int) {
	bit := 1 << q
	for i := range s.Amplitudes {
		if i&bit == 0 {
			j := i | bit
			s.Amplitudes[i], s.Amplitudes[j] = -1i*s.Amplitudes[j], 1i*s.Amplitudes[i]
		}
	}
}

func (s *State) Z(q int) {
	s.phase(q, -1)
}

func (s *State) S(q int) {
	s.phase(q, 1i)
}

func (s *State) Sdg(q int) {
	s.phase(q, -1i)
}

// P applies diag(1, e^{iλ}).
func (s *State) P(q int, lambda float64) {
	s.phase(q, cmplx.Exp(complex(0, lambda)))
}

// RZ applies diag(e^{-iλ/2}, e^{iλ/2}).
func (s *State) RZ(q int, lambda float64) {
	bit := 1 << q
	up := cmplx.Exp(complex(0, lambda/2))
	down := cmplx.Conj(up)
	for i := range s.Amplitudes {
		if i&bit != 0 {
			s.Amplitudes[i] *= up
		} else {
			s.Amplitudes[i] *= down
		}
	}
}

func (s *State) phase(q int, f complex128) {
	bit := 1 << q
	for i := range s.Amplitudes {
		if i&bit != 0 {
			s.Amplitudes[i] *= f
		}
	}
}

// ------------------------------------------------------------------
// Two-qubit gates
// ------------------------------------------------------------------

func (s *State) CX(control, target int) {
	cBit, tBit := 1<<control, 1<<target
	for i := range s.Amplitudes {
		if i&cBit != 0 && i&tBit == 0 {
			j := i | tBit
			s.Amplitudes[i], s.Amplitudes[j] = s.Amplitudes[j], s.Amplitudes[i]
		}
	}
}

// CP applies the controlled phase diag(1, 1, 1, e^{iλ}).
func (s *State) CP(control, target int, lambda float64) {
	f := cmplx.Exp(complex(0, lambda))
	mask := 1<<control | 1<<target
	for i := range s.Amplitudes {
		if i&mask == mask {
			s.Amplitudes[i] *= f
		}
	}
}

// CRZ applies RZ(λ) on target when control is set.
func (s *State) CRZ(control, target int, lambda float64) {
	cBit, tBit := 1<<control, 1<<target
	up := cmplx.Exp(complex(0, lambda/2))
	down := cmplx.Conj(up)
	for i := range s.Amplitudes {
		if i&cBit == 0 {
			continue
		}
		if i&tBit != 0 {
			s.Amplitudes[i] *= up
		} else {
			s.Amplitudes[i] *= down
		}
	}
}

func (s *State) SWAP(a, b int) {
	aBit, bBit := 1<<a, 1<<b
	for i := range s.Amplitudes {
		if i&aBit != 0 && i&bBit == 0 {
			j := (i &^ aBit) | bBit
			s.Amplitudes[i], s.Amplitudes[j] = s.Amplitudes[j], s.Amplitudes[i]
		}
	}
}

// RotatePair applies exp(-iθ P_a P_b) with P = Y when yy is set, else X.
func (s *State) RotatePair(a, b int, yy bool, theta float64) {
	c := complex(math.Cos(theta), 0)
	ms := complex(0, -math.Sin(theta))
	aBit, bBit := 1<<a, 1<<b
	mask := aBit | bBit
	for x := range s.Amplitudes {
		if x&aBit != 0 {
			continue
		}
		y := x ^ mask
		w := complex(1, 0)
		if yy && (x&bBit == 0) {
			// bits equal on both x and y: -s_a*s_b = -1
			w = -1
		}
		ax, ay := s.Amplitudes[x], s.Amplitudes[y]
		s.Amplitudes[x] = c*ax + ms*w*ay
		s.Amplitudes[y] = c*ay + ms*w*ax
	}
}

// Pauli applies a single-qubit Pauli: 0=I, 1=X, 2=Y, 3=Z.
func (s *State) Pauli(q, p int) {
	switch p {
	case 1:
		s.X(q)
	case 2:
		s.Y(q)
	case 3:
		s.Z(q)
	}
}

// Prepare loads amplitudes onto the given qubits, which must be in |0>.
// amps[k] is the amplitude of the pattern whose bit i is qubits[i].
func (s *State) Prepare(qubits []int, amps []complex128) error {
	if len(amps) != 1<<len(qubits) {
		return errors.Errorf("prepare: %d amplitudes for %d qubits", len(amps), len(qubits))
	}
	mask := 0
	for _, q := range qubits {
		mask |= 1 << q
	}
	for i, a := range s.Amplitudes {
		if i&mask != 0 && cmplx.Abs(a) > 1e-12 {
			return errors.New("prepare: target qubits are not in |0>")
		}
	}
	out := make([]complex128, len(s.Amplitudes))
	for i, a := range s.Amplitudes {
		if i&mask != 0 || a == 0 {
			continue
		}
		for k, v := range amps {
			out[i|spread(k, qubits)] += a * v
		}
	}
	s.Amplitudes = out
	return nil
}

// ------------------------------------------------------------------
// Readout
// ------------------------------------------------------------------

// Norm returns the 2-norm of the amplitudes.
func (s *State) Norm() float64 {
	var sum float64
	for _, a := range s.Amplitudes {
		sum += real(a)*real(a) + imag(a)*imag(a)
	}
	return math.Sqrt(sum)
}

// Marginal returns the outcome distribution of measuring qubits; bit i of
// an outcome is the result of qubits[i].
func (s *State) Marginal(qubits []int) []float64 {
	probs := make([]float64, 1<<len(qubits))
	for i, a := range s.Amplitudes {
		p := real(a)*real(a) + imag(a)*imag(a)
		if p == 0 {
			continue
		}
		probs[gather(i, qubits)] += p
	}
	return probs
}

// Sampler draws outcomes from a fixed distribution.
type Sampler struct {
	cdf []float64
}

// NewSampler builds a sampler over probs, which need not be normalized.
func NewSampler(probs []float64) *Sampler {
	cdf := make([]float64, len(probs))
	var acc float64
	for i, p := range probs {
		acc += p
		cdf[i] = acc
	}
	return &Sampler{cdf: cdf}
}

// Sample draws one outcome.
func (sm *Sampler) Sample(rng *rand.Rand) int {
	total := sm.cdf[len(sm.cdf)-1]
	u := rng.Float64() * total
	i := sort.SearchFloat64s(sm.cdf, u)
	// SearchFloat64s returns the first cdf >= u; step past zero-width bins.
	for i < len(sm.cdf)-1 && sm.cdf[i] <= u {
		i++
	}
	return i
}

func spread(k int, qubits []int) int {
	x := 0
	for i, q := range qubits {
		if k&(1<<i) != 0 {
			x |= 1 << q
		}
	}
	return x
}

func gather(x int, qubits []int) int {
	k := 0
	for i, q := range qubits {
		if x&(1<<q) != 0 {
			k |= 1 << i
		}
	}
	return k
}
