package circuit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ToQASM renders the circuit as OpenQASM 3.0. INIT has no portable form and
// is rejected.
func ToQASM(c *Circuit) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "OPENQASM 3.0;\ninclude \"stdgates.inc\";\nqubit[%d] q;\nbit[%d] c;\n\n",
		c.NumQubits, c.NumClbits)

	for i, gate := range c.Gates {
		if gate.Name == GateInit {
			return "", errors.Errorf("qasm: gate %d: state preparation has no OpenQASM form", i)
		}
		b.WriteString(gateNameToQASM(gate.Name))
		if len(gate.Params) > 0 {
			b.WriteString("(")
			for j, p := range gate.Params {
				if j > 0 {
					b.WriteString(", ")
				}
				b.WriteString(strconv.FormatFloat(p, 'g', 12, 64))
			}
			b.WriteString(")")
		}
		b.WriteString(" ")
		for j, q := range gate.Qubits {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "q[%d]", q)
		}
		b.WriteString(";\n")
	}

	b.WriteString("\n")
	for _, m := range c.Measurements {
		fmt.Fprintf(&b, "c[%d] = measure q[%d];\n", m.Clbit, m.Qubit)
	}
	return b.String(), nil
}

func gateNameToQASM(name string) string {
	mapping := map[string]string{
		GateH: "h", GateX: "x", GateY: "y", GateZ: "z",
		GateS: "s", GateSdg: "sdg", GateRZ: "rz", GateP: "p",
		GateCX: "cx", GateCP: "cp", GateCRZ: "crz", GateSWAP: "swap",
	}
	if mapped, ok := mapping[name]; ok {
		return mapped
	}
	return strings.ToLower(name)
}
