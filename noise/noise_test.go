package noise

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perclft/sshqpe/circuit"
	"github.com/perclft/sshqpe/errdefs"
)

func TestNewModelRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		spec ChannelSpec
	}{
		{"rate above one", ChannelSpec{SingleQubitErrorRate: 1.5}},
		{"negative rate", ChannelSpec{TwoQubitErrorRate: -0.1}},
		{"nan rate", ChannelSpec{SingleQubitErrorRate: math.NaN()}},
		{"two-qubit gate in single set", ChannelSpec{SingleQubitGates: []string{circuit.GateCX}}},
		{"unknown gate", ChannelSpec{TwoQubitGates: []string{"ISWAP"}}},
		{"decomposed two-qubit gate", ChannelSpec{TwoQubitGates: []string{circuit.GateCP}}},
		{"decomposed swap", ChannelSpec{TwoQubitGates: []string{circuit.GateSWAP}}},
		{"decomposed controlled rotation", ChannelSpec{TwoQubitGates: []string{circuit.GateCX, circuit.GateCRZ}}},
		{"decomposed pauli", ChannelSpec{SingleQubitGates: []string{circuit.GateY}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel(tt.spec)
			require.Error(t, err)
			assert.True(t, errdefs.IsInvalidParameter(err))
		})
	}
}

func TestBasisGatesAreAccepted(t *testing.T) {
	for _, g := range circuit.BasisGates {
		spec := ChannelSpec{SingleQubitErrorRate: 0.1, TwoQubitErrorRate: 0.1}
		if circuit.Arity(g) == 1 {
			spec.SingleQubitGates = []string{g}
		} else {
			spec.TwoQubitGates = []string{g}
		}
		m, err := NewModel(spec)
		require.NoError(t, err, g)
		assert.Equal(t, 0.1, m.Rate(g), g)
	}
}

func TestModelRates(t *testing.T) {
	m, err := NewModel(ChannelSpec{SingleQubitErrorRate: 0.01, TwoQubitErrorRate: 0.05})
	require.NoError(t, err)

	assert.Equal(t, 0.01, m.Rate(circuit.GateRZ))
	assert.Equal(t, 0.05, m.Rate(circuit.GateCX))
	assert.Equal(t, 0.0, m.Rate(circuit.GateCRZ), "only basis gates are noisy by default")
	assert.False(t, m.IsZero())
	assert.Equal(t, DefaultTwoQubitGates, m.Spec().TwoQubitGates)

	var nilModel *Model
	assert.True(t, nilModel.IsZero())
	assert.Equal(t, 0.0, nilModel.Rate(circuit.GateCX))
	assert.Equal(t, "noiseless", nilModel.String())

	zero, err := NewModel(Uniform(0))
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}

func sample() *circuit.Circuit {
	c := circuit.New(2, 2)
	c.H(0)
	c.CX(0, 1)
	c.CRZ(0, 1, 0.3)
	c.RZ(1, 0.2)
	c.Measure(0, 0)
	c.Measure(1, 1)
	return c
}

func TestCompile(t *testing.T) {
	m, err := NewModel(Uniform(0.1))
	require.NoError(t, err)
	plan := m.Compile(sample())
	require.Len(t, plan.Sites, 3)
	assert.Equal(t, 0, plan.Sites[0].Gate)
	assert.Equal(t, []int{0, 1}, plan.Sites[1].Qubits)
	assert.Equal(t, 3, plan.Sites[2].Gate)

	var nilModel *Model
	assert.Empty(t, nilModel.Compile(sample()).Sites)
}

func TestSampleEventsFrequency(t *testing.T) {
	m, err := NewModel(Uniform(1))
	require.NoError(t, err)

	c := circuit.New(2, 0)
	for i := 0; i < 2000; i++ {
		c.H(0)
		c.CX(0, 1)
	}
	plan := m.Compile(c)
	events := plan.SampleEvents(rand.New(rand.NewSource(3)), nil)

	var single, two int
	for _, e := range events {
		if len(e.Qubits) == 1 {
			single++
			assert.NotZero(t, e.Paulis[0])
			assert.Zero(t, e.Paulis[1])
		} else {
			two++
			assert.False(t, e.Paulis[0] == 0 && e.Paulis[1] == 0)
		}
	}
	// Identity is one of 4 single-qubit and 16 two-qubit draws.
	assert.InDelta(t, 1500, single, 100)
	assert.InDelta(t, 1875, two, 60)

	for i := 1; i < len(events); i++ {
		assert.Less(t, events[i-1].Gate, events[i].Gate)
	}
}

func TestSampleEventsDeterministic(t *testing.T) {
	m, err := NewModel(Uniform(0.3))
	require.NoError(t, err)
	c := circuit.New(1, 0)
	for i := 0; i < 100; i++ {
		c.H(0)
	}
	plan := m.Compile(c)

	a := plan.SampleEvents(rand.New(rand.NewSource(42)), nil)
	b := plan.SampleEvents(rand.New(rand.NewSource(42)), make([]Event, 0, 8))
	require.NotEmpty(t, a)
	assert.Equal(t, a, b)

	zero, err := NewModel(Uniform(0))
	require.NoError(t, err)
	assert.Empty(t, zero.Compile(sample()).SampleEvents(rand.New(rand.NewSource(1)), nil))
}
