package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perclft/sshqpe/backend/backends"
	"github.com/perclft/sshqpe/decoder"
	"github.com/perclft/sshqpe/pipeline"
	"github.com/perclft/sshqpe/services/estimator"
)

func NewEstimateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		server  string
		timeout time.Duration
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Run phase estimation and decode the spectrum",
		Long: `Build the phase-estimation circuit for the chain, sample it and print
the most frequent outcomes as energies next to the nearest exact eigenvalue.

Runs on the local simulator unless --server names an estimator service.`,
		Args: cobra.NoArgs,
	}
	flags := addRunFlags(cmd)
	backend := addBackendFlag(cmd)
	cmd.Flags().StringVar(&server, "server", "", "estimator address (host:port); empty runs locally")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this long; 0 waits")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "with --server, replace any cached result")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		out := rootOpts.formatter(cmd)
		cfg, logger, err := rootOpts.load()
		if err != nil {
			return out.Error(err)
		}
		defer logger.Sync()
		spec, err := flags.spec(cmd, cfg)
		if err != nil {
			return out.Error(err)
		}

		ctx, cancel := withTimeout(cmd.Context(), timeout)
		defer cancel()

		var res *pipeline.Result
		if server != "" {
			res, err = estimateRemote(ctx, server, spec, refresh, out)
		} else {
			var runner *pipeline.Runner
			runner, err = newRunner(backendName(cmd, backend, cfg), logger)
			if err == nil {
				res, err = runner.Run(ctx, spec)
			}
		}
		if err != nil {
			return out.Error(classify("estimate", err))
		}
		return out.Success(res, func(w io.Writer) error { return writeResult(w, res) })
	}
	return cmd
}

// newRunner resolves the named executor in the default backend registry.
func newRunner(backend string, logger *zap.Logger) (*pipeline.Runner, error) {
	exec, err := backends.DefaultRegistry(logger).Lookup(backend)
	if err != nil {
		return nil, err
	}
	return pipeline.NewRunner(exec, logger), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func estimateRemote(ctx context.Context, addr string, spec pipeline.Spec, refresh bool, out *OutputFormatter) (*pipeline.Result, error) {
	req, err := estimator.NewEstimateRequest(spec)
	if err != nil {
		return nil, err
	}
	req.Refresh = refresh
	client, err := estimator.Dial(addr)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	resp, err := client.Estimate(ctx, req)
	if err != nil {
		return nil, err
	}
	out.VerboseLog("server answered in %s (cached=%t)", resp.Elapsed.AsDuration(), resp.Cached)
	return resp.Result, nil
}

func writeResult(w io.Writer, res *pipeline.Result) error {
	s := res.Spec
	fmt.Fprintf(w, "SSH chain N=%d v=%g w=%g, %d evaluation qubits, t=%g, %s order x%d\n",
		s.Lattice.UnitCells, s.Lattice.Intracell, s.Lattice.Intercell,
		s.EvaluationQubits, s.Duration, s.Order, s.Steps)
	fmt.Fprintf(w, "Run %s on %s: %d qubits, %d gates, %d shots, seed %d\n",
		res.RunID, res.Backend, res.NumQubits, res.GateCount, s.Shots, res.Seed)
	if s.Noise != nil {
		fmt.Fprintf(w, "Noise: p1=%g p2=%g, %d trajectories\n",
			s.Noise.SingleQubitErrorRate, s.Noise.TwoQubitErrorRate, res.Trajectories)
	}
	fmt.Fprintf(w, "Resolution %.4f, spread %.4f\n\n", res.Resolution, res.Spread)
	return decoder.WriteTable(w, res.Estimates)
}
