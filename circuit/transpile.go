package circuit

// Decompose lowers CRZ, CP and SWAP onto the basis gates. Other gates are
// copied unchanged. The result implements the same unitary, without a global
// phase difference.
func Decompose(c *Circuit) *Circuit {
	out := &Circuit{
		NumQubits:    c.NumQubits,
		NumClbits:    c.NumClbits,
		Gates:        make([]GateOp, 0, len(c.Gates)*2),
		Measurements: append([]Measurement(nil), c.Measurements...),
		Metadata:     make(map[string]any, len(c.Metadata)+1),
	}
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata["transpiled"] = true

	for _, g := range c.Gates {
		switch g.Name {
		case GateCRZ:
			ctl, tgt, lambda := g.Qubits[0], g.Qubits[1], g.Params[0]
			out.RZ(tgt, lambda/2)
			out.CX(ctl, tgt)
			out.RZ(tgt, -lambda/2)
			out.CX(ctl, tgt)
		case GateCP:
			ctl, tgt, lambda := g.Qubits[0], g.Qubits[1], g.Params[0]
			out.P(ctl, lambda/2)
			out.CX(ctl, tgt)
			out.P(tgt, -lambda/2)
			out.CX(ctl, tgt)
			out.P(tgt, lambda/2)
		case GateSWAP:
			a, b := g.Qubits[0], g.Qubits[1]
			out.CX(a, b)
			out.CX(b, a)
			out.CX(a, b)
		default:
			out.Gates = append(out.Gates, g)
		}
	}
	return out
}
