// Package circuit builds the phase-estimation circuit for a synthesized
// evolution and lowers it onto the basis gates the executor and the noise
// model understand.
package circuit

import (
	"sort"
)

// Gate names. Everything after Decompose is one of H, X, S, Sdg, RZ, P, CX
// or INIT.
const (
	GateH    = "H"
	GateX    = "X"
	GateY    = "Y"
	GateZ    = "Z"
	GateS    = "S"
	GateSdg  = "Sdg"
	GateRZ   = "RZ"
	GateP    = "P"
	GateCX   = "CX"
	GateCP   = "CP"
	GateCRZ  = "CRZ"
	GateSWAP = "SWAP"
	// GateInit loads State onto Qubits, which must be in |0>.
	GateInit = "INIT"
)

// BasisGates is the gate set Decompose lowers onto.
var BasisGates = []string{GateH, GateX, GateS, GateSdg, GateRZ, GateP, GateCX}

type GateOp struct {
	Name   string       `json:"name"`
	Qubits []int        `json:"qubits"`
	Params []float64    `json:"params,omitempty"`
	State  []complex128 `json:"-"`
}

// Measurement reads Qubit into classical bit Clbit.
type Measurement struct {
	Qubit int `json:"qubit"`
	Clbit int `json:"clbit"`
}

type Circuit struct {
	NumQubits    int            `json:"num_qubits"`
	NumClbits    int            `json:"num_clbits"`
	Gates        []GateOp       `json:"gates"`
	Measurements []Measurement  `json:"measurements"`
	Metadata     map[string]any `json:"metadata"`
}

// New returns an empty circuit.
func New(qubits, clbits int) *Circuit {
	return &Circuit{NumQubits: qubits, NumClbits: clbits, Metadata: map[string]any{}}
}

func (c *Circuit) add(name string, params []float64, qubits ...int) {
	c.Gates = append(c.Gates, GateOp{Name: name, Qubits: qubits, Params: params})
}

func (c *Circuit) H(q int)   { c.add(GateH, nil, q) }
func (c *Circuit) X(q int)   { c.add(GateX, nil, q) }
func (c *Circuit) S(q int)   { c.add(GateS, nil, q) }
func (c *Circuit) Sdg(q int) { c.add(GateSdg, nil, q) }

func (c *Circuit) RZ(q int, lambda float64) { c.add(GateRZ, []float64{lambda}, q) }
func (c *Circuit) P(q int, lambda float64)  { c.add(GateP, []float64{lambda}, q) }

func (c *Circuit) CX(control, target int) { c.add(GateCX, nil, control, target) }
func (c *Circuit) SWAP(a, b int)          { c.add(GateSWAP, nil, a, b) }

func (c *Circuit) CP(control, target int, lambda float64) {
	c.add(GateCP, []float64{lambda}, control, target)
}

func (c *Circuit) CRZ(control, target int, lambda float64) {
	c.add(GateCRZ, []float64{lambda}, control, target)
}

// Init loads amplitudes onto qubits; amplitude k belongs to the pattern
// whose bit i is qubits[i].
func (c *Circuit) Init(qubits []int, amps []complex128) {
	c.Gates = append(c.Gates, GateOp{Name: GateInit, Qubits: qubits, State: amps})
}

func (c *Circuit) Measure(qubit, clbit int) {
	c.Measurements = append(c.Measurements, Measurement{Qubit: qubit, Clbit: clbit})
}

// MeasuredQubits lists the measured qubits ordered by classical bit.
func (c *Circuit) MeasuredQubits() []int {
	ms := append([]Measurement(nil), c.Measurements...)
	sort.Slice(ms, func(i, j int) bool { return ms[i].Clbit < ms[j].Clbit })
	qs := make([]int, len(ms))
	for i, m := range ms {
		qs[i] = m.Qubit
	}
	return qs
}

// CountOps tallies gates by name.
func (c *Circuit) CountOps() map[string]int {
	ops := make(map[string]int)
	for _, g := range c.Gates {
		ops[g.Name]++
	}
	return ops
}
