package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/perclft/sshqpe/pipeline"
	"github.com/perclft/sshqpe/services/estimator"
)

func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		rates  []float64
		server string
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Compare estimates across depolarizing error rates",
		Long: `Repeat one estimation at several depolarizing error rates, applied to
single-qubit gates and CX alike, and report how far the outcome distribution
spreads and how far the top estimate drifts from the exact spectrum.`,
		Args: cobra.NoArgs,
	}
	flags := addRunFlags(cmd)
	backend := addBackendFlag(cmd)
	cmd.Flags().Float64SliceVar(&rates, "rates", nil, "error rates (default from config)")
	cmd.Flags().StringVar(&server, "server", "", "estimator address (host:port); empty runs locally")

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
		if !cmd.Flags().Changed("rates") {
			rates = cfg.Run.SweepRates
		}

		var points []pipeline.SweepPoint
		if server != "" {
			points, err = sweepRemote(cmd, server, spec, rates)
		} else {
			var runner *pipeline.Runner
			runner, err = newRunner(backendName(cmd, backend, cfg), logger)
			if err == nil {
				points, err = runner.Sweep(cmd.Context(), spec, rates)
			}
		}
		if err != nil {
			return out.Error(classify("sweep", err))
		}
		return out.Success(points, func(w io.Writer) error { return writeSweep(w, points) })
	}
	return cmd
}

func sweepRemote(cmd *cobra.Command, addr string, spec pipeline.Spec, rates []float64) ([]pipeline.SweepPoint, error) {
	req, err := estimator.NewEstimateRequest(spec)
	if err != nil {
		return nil, err
	}
	client, err := estimator.Dial(addr)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	resp, err := client.Sweep(cmd.Context(), &estimator.SweepRequest{Estimate: *req, Rates: rates})
	if err != nil {
		return nil, err
	}
	return resp.Points, nil
}

func writeSweep(w io.Writer, points []pipeline.SweepPoint) error {
	fmt.Fprintf(w, "%-10s | %-10s | %-12s | %s\n", "Rate", "Spread", "Top energy", "Error")
	fmt.Fprintln(w, "------------------------------------------------------")
	for _, p := range points {
		fmt.Fprintf(w, "%-10.4f | %-10.4f | %-12.4f | %.4f\n", p.ErrorRate, p.Spread, p.TopEnergy, p.TopError)
	}
	return nil
}
