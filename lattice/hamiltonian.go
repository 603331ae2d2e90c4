package lattice

import (
	"fmt"
	"math/bits"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Label names a two-local Pauli product.
type Label string

const (
	LabelXX Label = "XX"
	LabelYY Label = "YY"
)

// Term is one weighted Pauli product acting on an adjacent site pair.
// Hopping c†_i c_{i+1} + h.c. maps to (X_i X_{i+1} + Y_i Y_{i+1}) / 2 under
// Jordan-Wigner, so each bond contributes one XX and one YY term.
type Term struct {
	Label       Label   `json:"label"`
	Sites       [2]int  `json:"sites"`
	Coefficient float64 `json:"coefficient"`
}

func (t Term) String() string {
	return fmt.Sprintf("%+.4f %s[%d,%d]", t.Coefficient, t.Label, t.Sites[0], t.Sites[1])
}

// Apply returns the basis state y and real weight v such that
// Term|x> = v|y>. Both XX and YY flip the two sites; YY also picks up
// -s_i*s_j where s = +1 for a 0 bit and -1 for a 1 bit.
func (t Term) Apply(x int) (int, float64) {
	a, b := 1<<t.Sites[0], 1<<t.Sites[1]
	y := x ^ a ^ b
	if t.Label == LabelXX {
		return y, t.Coefficient
	}
	if (x&a != 0) == (x&b != 0) {
		return y, -t.Coefficient
	}
	return y, t.Coefficient
}

// Hamiltonian is the qubit-operator form of the chain: one qubit per site.
type Hamiltonian struct {
	NumQubits int    `json:"num_qubits"`
	Terms     []Term `json:"terms"`
}

// Build maps the chain onto qubit operators. The result holds exactly
// 2*(NumSites-1) terms ordered bond by bond, XX before YY.
func Build(p Parameters) (*Hamiltonian, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "build hamiltonian")
	}

	terms := make([]Term, 0, 2*p.NumBonds())
	for i := 0; i < p.NumBonds(); i++ {
		c := p.Hopping(i) / 2
		terms = append(terms,
			Term{Label: LabelXX, Sites: [2]int{i, i + 1}, Coefficient: c},
			Term{Label: LabelYY, Sites: [2]int{i, i + 1}, Coefficient: c},
		)
	}
	return &Hamiltonian{NumQubits: p.NumSites(), Terms: terms}, nil
}

// Dim is the Hilbert space dimension 2^NumQubits.
func (h *Hamiltonian) Dim() int {
	return 1 << h.NumQubits
}

// Matrix returns the dense 2^n x 2^n matrix of the operator. Qubit q is
// bit q of the basis index.
func (h *Hamiltonian) Matrix() *mat.Dense {
	dim := h.Dim()
	m := mat.NewDense(dim, dim, nil)
	for x := 0; x < dim; x++ {
		for _, t := range h.Terms {
			y, v := t.Apply(x)
			m.Set(y, x, m.At(y, x)+v)
		}
	}
	return m
}

// SingleExcitationBlock restricts the operator to states with exactly one
// excited qubit, indexed by the excited site. For a nearest-neighbor chain
// no Jordan-Wigner strings survive, so this block equals TightBinding.
func (h *Hamiltonian) SingleExcitationBlock() *mat.Dense {
	n := h.NumQubits
	m := mat.NewDense(n, n, nil)
	for site := 0; site < n; site++ {
		x := 1 << site
		for _, t := range h.Terms {
			y, v := t.Apply(x)
			if bits.OnesCount(uint(y)) != 1 {
				continue
			}
			to := bits.TrailingZeros(uint(y))
			m.Set(to, site, m.At(to, site)+v)
		}
	}
	return m
}

// TightBinding returns the real-space hopping matrix of the chain.
func TightBinding(p Parameters) (*mat.Dense, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "build tight-binding matrix")
	}
	n := p.NumSites()
	m := mat.NewDense(n, n, nil)
	for i := 0; i < p.NumBonds(); i++ {
		t := p.Hopping(i)
		m.Set(i, i+1, t)
		m.Set(i+1, i, t)
	}
	return m, nil
}
