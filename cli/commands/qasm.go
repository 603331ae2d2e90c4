package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/perclft/sshqpe/circuit"
	"github.com/perclft/sshqpe/pipeline"
)

// QASMReport is the JSON form of an exported circuit.
type QASMReport struct {
	NumQubits int            `json:"num_qubits"`
	GateCount int            `json:"gate_count"`
	Ops       map[string]int `json:"ops"`
	QASM      string         `json:"qasm"`
}

func NewQASMCommand(rootOpts *RootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "qasm",
		Short: "Export the phase-estimation circuit as OpenQASM 3",
		Args:  cobra.NoArgs,
	}
	flags := addRunFlags(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		out := rootOpts.formatter(cmd)
		cfg, _, err := rootOpts.load()
		if err != nil {
			return out.Error(err)
		}
		spec, err := flags.spec(cmd, cfg)
		if err != nil {
			return out.Error(err)
		}
		c, err := pipeline.BuildCircuit(spec)
		if err != nil {
			return out.Error(classify("build circuit", err))
		}
		src, err := circuit.ToQASM(c)
		if err != nil {
			return out.Error(classify("export circuit", err))
		}

		if output != "" {
			if err := os.WriteFile(output, []byte(src), 0o644); err != nil {
				return out.Error(WrapExitError(ExitFailure, "write qasm", err))
			}
			out.VerboseLog("wrote %d gates to %s", len(c.Gates), output)
		}
		report := QASMReport{NumQubits: c.NumQubits, GateCount: len(c.Gates), Ops: c.CountOps(), QASM: src}
		return out.Success(report, func(w io.Writer) error {
			if output != "" {
				_, err := fmt.Fprintf(w, "%d qubits, %d gates written to %s\n", c.NumQubits, len(c.Gates), output)
				return err
			}
			_, err := io.WriteString(w, src)
			return err
		})
	}
	return cmd
}
