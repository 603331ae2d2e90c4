// Package noise injects depolarizing errors after gates, in trajectory form:
// with probability p a gate's qubits receive a uniformly random Pauli from
// {I,X,Y,Z}^arity, which averages to the depolarizing channel.
package noise

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/perclft/sshqpe/circuit"
	"github.com/perclft/sshqpe/errdefs"
)

// Default gate sets cover the basis a transpiled circuit is made of.
var (
	DefaultSingleQubitGates = []string{circuit.GateH, circuit.GateX, circuit.GateS, circuit.GateSdg, circuit.GateRZ, circuit.GateP}
	DefaultTwoQubitGates    = []string{circuit.GateCX}
)

// DefaultErrorRate is the depolarizing strength of the reference noisy run.
const DefaultErrorRate = 0.02

// ChannelSpec configures the depolarizing channels.
type ChannelSpec struct {
	SingleQubitErrorRate float64  `json:"single_qubit_error_rate" yaml:"single_qubit_error_rate"`
	TwoQubitErrorRate    float64  `json:"two_qubit_error_rate" yaml:"two_qubit_error_rate"`
	SingleQubitGates     []string `json:"single_qubit_gates,omitempty" yaml:"single_qubit_gates,omitempty"`
	TwoQubitGates        []string `json:"two_qubit_gates,omitempty" yaml:"two_qubit_gates,omitempty"`
}

// Uniform applies rate to both channels over the default gate sets.
func Uniform(rate float64) ChannelSpec {
	return ChannelSpec{
		SingleQubitErrorRate: rate,
		TwoQubitErrorRate:    rate,
		SingleQubitGates:     DefaultSingleQubitGates,
		TwoQubitGates:        DefaultTwoQubitGates,
	}
}

func (s ChannelSpec) Validate() error {
	if err := checkRate("single_qubit_error_rate", s.SingleQubitErrorRate); err != nil {
		return err
	}
	if err := checkRate("two_qubit_error_rate", s.TwoQubitErrorRate); err != nil {
		return err
	}
	for _, g := range s.SingleQubitGates {
		if circuit.Arity(g) != 1 {
			return errdefs.InvalidParameter("single_qubit_gates", g, "not a single-qubit gate")
		}
		if !isBasis(g) {
			return errdefs.InvalidParameter("single_qubit_gates", g, "not a basis gate, never reaches the executor")
		}
	}
	for _, g := range s.TwoQubitGates {
		if circuit.Arity(g) != 2 {
			return errdefs.InvalidParameter("two_qubit_gates", g, "not a two-qubit gate")
		}
		if !isBasis(g) {
			return errdefs.InvalidParameter("two_qubit_gates", g, "not a basis gate, never reaches the executor")
		}
	}
	return nil
}

// isBasis reports whether g survives circuit.Decompose.
func isBasis(g string) bool {
	for _, b := range circuit.BasisGates {
		if b == g {
			return true
		}
	}
	return false
}

func checkRate(field string, p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return errdefs.InvalidParameter(field, p, "must be within [0, 1]")
	}
	return nil
}

// Model maps gate names to error rates. A nil *Model is noiseless.
type Model struct {
	spec  ChannelSpec
	rates map[string]float64
}

// NewModel validates spec. Empty gate lists fall back to the defaults.
func NewModel(spec ChannelSpec) (*Model, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if len(spec.SingleQubitGates) == 0 {
		spec.SingleQubitGates = DefaultSingleQubitGates
	}
	if len(spec.TwoQubitGates) == 0 {
		spec.TwoQubitGates = DefaultTwoQubitGates
	}
	m := &Model{spec: spec, rates: make(map[string]float64)}
	for _, g := range spec.SingleQubitGates {
		m.rates[g] = spec.SingleQubitErrorRate
	}
	for _, g := range spec.TwoQubitGates {
		m.rates[g] = spec.TwoQubitErrorRate
	}
	return m, nil
}

// Spec returns the effective channel configuration.
func (m *Model) Spec() ChannelSpec {
	if m == nil {
		return ChannelSpec{}
	}
	return m.spec
}

// IsZero reports whether the model never injects an error.
func (m *Model) IsZero() bool {
	return m == nil || (m.spec.SingleQubitErrorRate == 0 && m.spec.TwoQubitErrorRate == 0)
}

// Rate is the error probability after the named gate.
func (m *Model) Rate(gate string) float64 {
	if m == nil {
		return 0
	}
	return m.rates[gate]
}

func (m *Model) String() string {
	if m.IsZero() {
		return "noiseless"
	}
	return fmt.Sprintf("depolarizing(1q=%g, 2q=%g)", m.spec.SingleQubitErrorRate, m.spec.TwoQubitErrorRate)
}

// Site is a gate followed by a channel.
type Site struct {
	Gate   int
	Qubits []int
	Rate   float64
}

// Event is one injected error: Paulis[i] (1=X, 2=Y, 3=Z) hits Qubits[i]
// right after gate Gate. Identity draws are not recorded.
type Event struct {
	Gate   int
	Qubits []int
	Paulis [2]int
}

// Plan is a model bound to one circuit.
type Plan struct {
	Sites []Site
}

// Compile lists the noisy gates of c in circuit order.
func (m *Model) Compile(c *circuit.Circuit) *Plan {
	p := &Plan{}
	if m.IsZero() {
		return p
	}
	for i, g := range c.Gates {
		if r := m.rates[g.Name]; r > 0 {
			p.Sites = append(p.Sites, Site{Gate: i, Qubits: g.Qubits, Rate: r})
		}
	}
	return p
}

// SampleEvents draws one trajectory's errors, reusing buf. The result is
// ordered by gate index.
func (p *Plan) SampleEvents(rng *rand.Rand, buf []Event) []Event {
	buf = buf[:0]
	for _, s := range p.Sites {
		if rng.Float64() >= s.Rate {
			continue
		}
		arity := len(s.Qubits)
		idx := rng.Intn(1 << (2 * arity))
		if idx == 0 {
			continue
		}
		var paulis [2]int
		for i := 0; i < arity; i++ {
			paulis[i] = (idx >> (2 * i)) & 3
		}
		buf = append(buf, Event{Gate: s.Gate, Qubits: s.Qubits, Paulis: paulis})
	}
	return buf
}
