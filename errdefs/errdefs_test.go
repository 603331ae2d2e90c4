package errdefs

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidParameterThroughWrap(t *testing.T) {
	err := errors.Wrap(InvalidParameter("unit_cells", 0, "must be >= 1"), "build hamiltonian")

	assert.True(t, IsInvalidParameter(err))
	assert.False(t, IsExecution(err))
	assert.Equal(t, "build hamiltonian: invalid parameter unit_cells=0: must be >= 1", err.Error())

	var ip *InvalidParameterError
	require.True(t, errors.As(err, &ip))
	assert.Equal(t, "unit_cells", ip.Field)
}

func TestExecutionUnwrap(t *testing.T) {
	err := Execution("statevector", "run aborted", context.Canceled)

	assert.True(t, IsExecution(err))
	assert.False(t, IsInvalidParameter(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "statevector")
}

func TestExecutionWithoutCause(t *testing.T) {
	err := Execution("statevector", "circuit needs 40 qubits, backend supports 22", nil)
	assert.Equal(t, "execution failed on statevector: circuit needs 40 qubits, backend supports 22", err.Error())
}
