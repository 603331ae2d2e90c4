package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/perclft/sshqpe/decoder"
	"github.com/perclft/sshqpe/lattice"
	"github.com/perclft/sshqpe/pipeline"
	"github.com/perclft/sshqpe/services/estimator"
	"github.com/perclft/sshqpe/services/registry"
)

// execute runs qctl with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

// smallRun keeps the system register in the vacuum, so every shot reads 0.
var smallRun = []string{"--cells", "1", "--eval-qubits", "4", "--time", "2", "--shots", "200", "--seed", "3"}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "qctl", cmd.Use)
	for _, name := range []string{"estimate", "spectrum", "sweep", "qasm", "serve", "runs"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
}

func TestEstimateFlagDefaultsMatchPipeline(t *testing.T) {
	cmd := NewRootCommand()
	est, _, err := cmd.Find([]string{"estimate"})
	require.NoError(t, err)
	d := pipeline.DefaultSpec()
	assert.Equal(t, "2", est.Flags().Lookup("cells").DefValue)
	assert.Equal(t, "8", est.Flags().Lookup("eval-qubits").DefValue)
	assert.Equal(t, "10", est.Flags().Lookup("time").DefValue)
	assert.Equal(t, d.Order.String(), est.Flags().Lookup("order").DefValue)
	assert.Equal(t, "4096", est.Flags().Lookup("shots").DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "yaml", "spectrum")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEstimateText(t *testing.T) {
	out, err := execute(t, append([]string{"estimate"}, smallRun...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "SSH chain N=1 v=0.5 w=1.5")
	assert.Contains(t, out, "Bitstring  | Prob")
	assert.Contains(t, out, "0000       | 1.000")
}

func TestEstimateJSON(t *testing.T) {
	out, err := execute(t, append([]string{"--format", "json", "estimate"}, smallRun...)...)
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   pipeline.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]int{"0000": 200}, resp.Data.Counts)
	assert.Equal(t, int64(3), resp.Data.Seed)
}

func TestEstimateRejectsParameters(t *testing.T) {
	tests := [][]string{
		{"estimate", "--shots", "0"},
		{"estimate", "--order", "third"},
		{"estimate", "--initial", "middle"},
		{"estimate", "--eval-qubits", "17"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args[1:], " "), func(t *testing.T) {
			out, err := execute(t, append([]string{"--format", "json"}, args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err), "%v", err)
			assert.Contains(t, out, `"status":"error"`)
		})
	}
}

func TestEstimateConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
run:
  lattice:
    unit_cells: 1
  evaluation_qubits: 3
  shots: 50
  seed: 8
`), 0o644))

	out, err := execute(t, "--config", path, "--format", "json", "estimate", "--shots", "70")
	require.NoError(t, err)
	var resp struct {
		Data pipeline.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Spec.Lattice.UnitCells)
	assert.Equal(t, 3, resp.Data.Spec.EvaluationQubits)
	assert.Equal(t, 70, resp.Data.Spec.Shots, "flags override the file")
	assert.Equal(t, int64(8), resp.Data.Seed)

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "estimate")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSpectrum(t *testing.T) {
	out, err := execute(t, "spectrum")
	require.NoError(t, err)
	assert.Contains(t, out, "topological, 4 sites")
	assert.Contains(t, out, "Boundary gap:")
	assert.Contains(t, out, "Many-body: 16 levels")
	assert.Contains(t, out, "Expected outcomes (8 evaluation qubits, t=10):")
	assert.Contains(t, out, "+0.000000  00000000")

	out, err = execute(t, "--format", "json", "spectrum", "--cells", "10", "--intracell", "1",
		"--sweep", "--w-min", "0.5", "--w-max", "1.5", "--points", "3")
	require.NoError(t, err)
	var resp struct {
		Data SpectrumReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Data.SingleParticle, 20)
	require.Len(t, resp.Data.Sweep, 3)
	assert.InDelta(t, 1.0, resp.Data.Sweep[1].Intercell, 1e-12)
	assert.Less(t, resp.Data.Sweep[0].Gap, resp.Data.Sweep[2].Gap)

	_, err = execute(t, "spectrum", "--cells", "0")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBuildSpectrumOutcomes(t *testing.T) {
	p := lattice.Parameters{UnitCells: 2, Intracell: 0.5, Intercell: 1.5}
	r, err := buildSpectrum(p, 6, 3)
	require.NoError(t, err)
	require.Len(t, r.Outcomes, len(r.ManyBody))
	for i, e := range r.ManyBody {
		assert.Equal(t, decoder.Encode(e, 3, 6), r.Outcomes[i])
	}

	big, err := buildSpectrum(lattice.Parameters{UnitCells: 11, Intracell: 1, Intercell: 1}, 6, 3)
	require.NoError(t, err)
	assert.Empty(t, big.ManyBody)
	assert.Empty(t, big.Outcomes)
}

func TestSweepCommand(t *testing.T) {
	out, err := execute(t, append([]string{"--format", "json", "sweep", "--rates", "0,0.05"}, smallRun...)...)
	require.NoError(t, err)
	var resp struct {
		Data []pipeline.SweepPoint `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, 0.0, resp.Data[0].Spread)
	assert.Greater(t, resp.Data[1].Spread, 0.0)
}

func TestQASM(t *testing.T) {
	out, err := execute(t, "qasm", "--cells", "1", "--eval-qubits", "2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "OPENQASM 3.0;"))
	assert.Contains(t, out, "qubit[4] q;")
	assert.Contains(t, out, "c[1] = measure q[1];")

	path := filepath.Join(t.TempDir(), "qpe.qasm")
	out, err = execute(t, "qasm", "--cells", "1", "--eval-qubits", "2", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "written to")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "OPENQASM 3.0;"))
}

func TestEstimateAndRunsViaServer(t *testing.T) {
	runs, err := registry.Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	runner, err := newRunner("local", zap.NewNop())
	require.NoError(t, err)
	srv := estimator.NewServer(runner, estimator.WithRegistry(runs))
	g := estimator.NewGRPCServer(srv)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go g.Serve(lis)
	t.Cleanup(g.Stop)
	addr := lis.Addr().String()

	out, err := execute(t, append([]string{"--format", "json", "estimate", "--server", addr}, smallRun...)...)
	require.NoError(t, err)
	var resp struct {
		Data pipeline.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, map[string]int{"0000": 200}, resp.Data.Counts)

	out, err = execute(t, "runs", "list", "--server", addr)
	require.NoError(t, err)
	assert.Contains(t, out, resp.Data.RunID)

	out, err = execute(t, "runs", "get", resp.Data.RunID, "--server", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "Bitstring  | Prob")

	_, err = execute(t, "runs", "get", "missing", "--server", addr)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err = execute(t, append([]string{"--format", "json", "estimate", "--server", addr, "--refresh"}, smallRun...)...)
	require.NoError(t, err)
	var fresh struct {
		Data pipeline.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &fresh))
	assert.NotEqual(t, resp.Data.RunID, fresh.Data.RunID)

	out, err = execute(t, "runs", "delete", resp.Data.RunID, "--server", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted run "+resp.Data.RunID)
	out, err = execute(t, "runs", "list", "--server", addr)
	require.NoError(t, err)
	assert.NotContains(t, out, resp.Data.RunID)
	assert.Contains(t, out, fresh.Data.RunID)

	_, err = execute(t, "runs", "delete", resp.Data.RunID, "--server", addr)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestRunsDeleteLocal(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	runs, err := registry.Open(context.Background(), "sqlite3", dbPath)
	require.NoError(t, err)
	runner, err := newRunner("local", zap.NewNop())
	require.NoError(t, err)
	spec := pipeline.DefaultSpec()
	spec.Lattice.UnitCells = 1
	spec.EvaluationQubits = 2
	spec.Shots = 16
	res, err := runner.Run(context.Background(), spec)
	require.NoError(t, err)
	_, err = runs.Record(context.Background(), res)
	require.NoError(t, err)
	require.NoError(t, runs.Close())

	path := filepath.Join(dir, "qctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  database:\n    driver: sqlite3\n    dsn: "+dbPath+"\n"), 0o600))

	_, err = execute(t, "--config", path, "runs", "delete", res.RunID)
	require.NoError(t, err)
	_, err = execute(t, "--config", path, "runs", "get", res.RunID)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestUnknownBackend(t *testing.T) {
	_, err := execute(t, append([]string{"estimate", "--backend", "ibm"}, smallRun...)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown backend")

	_, err = execute(t, "sweep", "--backend", "ibm", "--rates", "0")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "serve", "--backend", "ibm", "--listen", "127.0.0.1:0", "--metrics-listen", "")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, append([]string{"estimate", "--backend", "local"}, smallRun...)...)
	assert.NoError(t, err)
}

func TestRunsNeedsRegistry(t *testing.T) {
	_, err := execute(t, "runs", "list")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(errors.Wrap(NewExitError(ExitCommandError, "bad"), "ctx")))
}
