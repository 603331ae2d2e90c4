package circuit

import (
	"github.com/pkg/errors"

	"github.com/perclft/sshqpe/backend/statevector"
)

var arity = map[string]int{
	GateH: 1, GateX: 1, GateY: 1, GateZ: 1, GateS: 1, GateSdg: 1, GateRZ: 1, GateP: 1,
	GateCX: 2, GateCP: 2, GateCRZ: 2, GateSWAP: 2,
}

var parametric = map[string]bool{GateRZ: true, GateP: true, GateCP: true, GateCRZ: true}

// Validate checks gate operands and that the classical bits are exactly
// 0..NumClbits-1, each written once.
func (c *Circuit) Validate() error {
	for i, g := range c.Gates {
		if err := c.checkGate(g); err != nil {
			return errors.Wrapf(err, "gate %d", i)
		}
	}
	seen := make([]bool, c.NumClbits)
	if len(c.Measurements) != c.NumClbits {
		return errors.Errorf("%d measurements for %d classical bits", len(c.Measurements), c.NumClbits)
	}
	for _, m := range c.Measurements {
		if m.Qubit < 0 || m.Qubit >= c.NumQubits {
			return errors.Errorf("measurement of qubit %d outside register", m.Qubit)
		}
		if m.Clbit < 0 || m.Clbit >= c.NumClbits || seen[m.Clbit] {
			return errors.Errorf("classical bit %d written twice or out of range", m.Clbit)
		}
		seen[m.Clbit] = true
	}
	return nil
}

func (c *Circuit) checkGate(g GateOp) error {
	for _, q := range g.Qubits {
		if q < 0 || q >= c.NumQubits {
			return errors.Errorf("%s on qubit %d outside register of %d", g.Name, q, c.NumQubits)
		}
	}
	if g.Name == GateInit {
		if len(g.State) != 1<<len(g.Qubits) {
			return errors.Errorf("INIT of %d qubits carries %d amplitudes", len(g.Qubits), len(g.State))
		}
		return nil
	}
	n, ok := arity[g.Name]
	if !ok {
		return errors.Errorf("unknown gate %q", g.Name)
	}
	if len(g.Qubits) != n {
		return errors.Errorf("%s takes %d qubits, got %d", g.Name, n, len(g.Qubits))
	}
	if n == 2 && g.Qubits[0] == g.Qubits[1] {
		return errors.Errorf("%s on repeated qubit %d", g.Name, g.Qubits[0])
	}
	if parametric[g.Name] && len(g.Params) != 1 {
		return errors.Errorf("%s takes one parameter", g.Name)
	}
	return nil
}

// Arity reports how many qubits the named gate acts on, or 0 if unknown.
func Arity(name string) int {
	return arity[name]
}

// Apply runs one gate on s. Operands are assumed valid.
func Apply(s *statevector.State, g GateOp) error {
	q := g.Qubits
	switch g.Name {
	case GateH:
		s.H(q[0])
	case GateX:
		s.X(q[0])
	case GateY:
		s.Y(q[0])
	case GateZ:
		s.Z(q[0])
	case GateS:
		s.S(q[0])
	case GateSdg:
		s.Sdg(q[0])
	case GateRZ:
		s.RZ(q[0], g.Params[0])
	case GateP:
		s.P(q[0], g.Params[0])
	case GateCX:
		s.CX(q[0], q[1])
	case GateCP:
		s.CP(q[0], q[1], g.Params[0])
	case GateCRZ:
		s.CRZ(q[0], q[1], g.Params[0])
	case GateSWAP:
		s.SWAP(q[0], q[1])
	case GateInit:
		return s.Prepare(q, g.State)
	default:
		return errors.Errorf("unknown gate %q", g.Name)
	}
	return nil
}

// Simulate runs every gate of c on a fresh |0...0> state.
func Simulate(c *Circuit) (*statevector.State, error) {
	s := statevector.New(c.NumQubits)
	for i, g := range c.Gates {
		if err := Apply(s, g); err != nil {
			return nil, errors.Wrapf(err, "gate %d", i)
		}
	}
	return s, nil
}
