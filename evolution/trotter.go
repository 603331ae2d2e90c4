// Package evolution turns a qubit Hamiltonian into a product-formula
// approximation of exp(-iHt): an ordered list of single-term rotations.
package evolution

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/perclft/sshqpe/errdefs"
	"github.com/perclft/sshqpe/lattice"
)

// Order selects the product formula.
type Order int

const (
	// First is the Lie-Trotter formula.
	First Order = 1
	// Second is the symmetric Strang splitting.
	Second Order = 2
)

func (o Order) String() string {
	switch o {
	case First:
		return "first"
	case Second:
		return "second"
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// ParseOrder accepts "first"/"second" and the numerals "1"/"2".
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first", "1", "lie-trotter":
		return First, nil
	case "second", "2", "suzuki":
		return Second, nil
	}
	return 0, errdefs.InvalidParameter("trotter_order", s, "must be first or second")
}

func (o Order) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Order) UnmarshalText(b []byte) error {
	v, err := ParseOrder(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Spec describes one approximation of exp(-iHt).
type Spec struct {
	Hamiltonian *lattice.Hamiltonian
	Duration    float64
	Order       Order
	Steps       int
}

func (s Spec) Validate() error {
	if s.Hamiltonian == nil {
		return errdefs.InvalidParameter("hamiltonian", nil, "must be set")
	}
	if s.Duration <= 0 || math.IsNaN(s.Duration) || math.IsInf(s.Duration, 0) {
		return errdefs.InvalidParameter("evolution_time", s.Duration, "must be a finite value > 0")
	}
	if s.Order != First && s.Order != Second {
		return errdefs.InvalidParameter("trotter_order", int(s.Order), "must be first or second")
	}
	if s.Steps < 1 {
		return errdefs.InvalidParameter("trotter_steps", s.Steps, "must be >= 1")
	}
	return nil
}

// StepSize is Duration/Steps.
func (s Spec) StepSize() float64 {
	return s.Duration / float64(s.Steps)
}

// Rotation is exp(-i * Angle * P) for the Pauli product of Term.
type Rotation struct {
	Term  lattice.Term
	Angle float64
}

// Synthesize expands the product formula into its rotation sequence.
// First order emits every term once per step with angle c*dt. Second order
// emits every term forward with c*dt/2, then in reverse with c*dt/2.
func Synthesize(s Spec) ([]Rotation, error) {
	if err := s.Validate(); err != nil {
		return nil, errors.Wrap(err, "synthesize evolution")
	}
	terms := s.Hamiltonian.Terms
	dt := s.StepSize()

	var rots []Rotation
	switch s.Order {
	case First:
		rots = make([]Rotation, 0, s.Steps*len(terms))
		for step := 0; step < s.Steps; step++ {
			for _, t := range terms {
				rots = append(rots, Rotation{Term: t, Angle: t.Coefficient * dt})
			}
		}
	case Second:
		rots = make([]Rotation, 0, 2*s.Steps*len(terms))
		for step := 0; step < s.Steps; step++ {
			for _, t := range terms {
				rots = append(rots, Rotation{Term: t, Angle: t.Coefficient * dt / 2})
			}
			for i := len(terms) - 1; i >= 0; i-- {
				t := terms[i]
				rots = append(rots, Rotation{Term: t, Angle: t.Coefficient * dt / 2})
			}
		}
	}
	return rots, nil
}
