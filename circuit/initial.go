package circuit

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"github.com/perclft/sshqpe/errdefs"
)

// InitialKind selects how the system register is prepared.
type InitialKind string

const (
	InitialZero     InitialKind = "zero"
	InitialEdge     InitialKind = "edge"
	InitialPrepared InitialKind = "prepared"
)

// InitialState is the system-register preparation.
type InitialState struct {
	Kind InitialKind `json:"kind"`
	// Site is the excited boundary site for InitialEdge.
	Site int `json:"site,omitempty"`
	// Amplitudes holds the prepared state for InitialPrepared, indexed with
	// system site i as bit i.
	Amplitudes []complex128 `json:"-"`
}

// Zero leaves every site empty.
func Zero() InitialState {
	return InitialState{Kind: InitialZero}
}

// EdgeExcitation puts one excitation on a boundary site, 0 or the last one.
func EdgeExcitation(site int) InitialState {
	return InitialState{Kind: InitialEdge, Site: site}
}

// Prepared loads an arbitrary normalized system state.
func Prepared(amps []complex128) InitialState {
	return InitialState{Kind: InitialPrepared, Amplitudes: amps}
}

// ParseInitial accepts "zero", "edge-left" and "edge-right".
func ParseInitial(s string, numSites int) (InitialState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zero":
		return Zero(), nil
	case "edge-left", "edge":
		return EdgeExcitation(0), nil
	case "edge-right":
		return EdgeExcitation(numSites - 1), nil
	}
	return InitialState{}, errdefs.InvalidParameter("initial_state", s, "must be zero, edge-left or edge-right")
}

func (s InitialState) String() string {
	switch s.Kind {
	case InitialEdge:
		return fmt.Sprintf("edge(%d)", s.Site)
	case InitialPrepared:
		return "prepared"
	}
	return "zero"
}

func (s InitialState) validate(numSites int) error {
	switch s.Kind {
	case "", InitialZero:
		return nil
	case InitialEdge:
		if s.Site != 0 && s.Site != numSites-1 {
			return errdefs.InvalidParameter("initial_state.site", s.Site,
				fmt.Sprintf("must be a boundary site (0 or %d)", numSites-1))
		}
		return nil
	case InitialPrepared:
		if len(s.Amplitudes) != 1<<numSites {
			return errdefs.InvalidParameter("initial_state.amplitudes", len(s.Amplitudes),
				fmt.Sprintf("need %d amplitudes", 1<<numSites))
		}
		var norm float64
		for _, a := range s.Amplitudes {
			norm += cmplx.Abs(a) * cmplx.Abs(a)
		}
		if math.Abs(norm-1) > 1e-9 {
			return errdefs.InvalidParameter("initial_state.amplitudes", norm, "must be normalized")
		}
		return nil
	}
	return errdefs.InvalidParameter("initial_state", string(s.Kind), "unknown kind")
}

// prepare appends the preparation of the system register at qubits
// offset..offset+numSites-1.
func (s InitialState) prepare(c *Circuit, offset, numSites int) {
	switch s.Kind {
	case InitialEdge:
		c.X(offset + s.Site)
	case InitialPrepared:
		qubits := make([]int, numSites)
		for i := range qubits {
			qubits[i] = offset + i
		}
		c.Init(qubits, s.Amplitudes)
	}
}
