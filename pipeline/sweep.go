package pipeline

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/perclft/sshqpe/decoder"
	"github.com/perclft/sshqpe/noise"
)

// DefaultSweepRates compares the ideal run with 2% depolarizing noise.
var DefaultSweepRates = []float64{0, noise.DefaultErrorRate}

// SweepPoint summarizes one noise level.
type SweepPoint struct {
	ErrorRate float64            `json:"error_rate"`
	Spread    float64            `json:"spread"`
	TopEnergy float64            `json:"top_energy"`
	TopError  float64            `json:"top_error"`
	Estimates []decoder.Estimate `json:"estimates"`
	RunID     string             `json:"run_id"`
}

// Sweep reruns spec once per depolarizing rate, applied to both channels.
// Gate sets come from spec.Noise when set, else the defaults. Every point
// reuses spec.Seed so the rates see the same random stream.
func (r *Runner) Sweep(ctx context.Context, spec Spec, rates []float64) ([]SweepPoint, error) {
	if len(rates) == 0 {
		rates = DefaultSweepRates
	}
	base := noise.Uniform(0)
	if spec.Noise != nil {
		if len(spec.Noise.SingleQubitGates) > 0 {
			base.SingleQubitGates = spec.Noise.SingleQubitGates
		}
		if len(spec.Noise.TwoQubitGates) > 0 {
			base.TwoQubitGates = spec.Noise.TwoQubitGates
		}
	}

	points := make([]SweepPoint, 0, len(rates))
	for _, rate := range rates {
		s := spec
		ch := base
		ch.SingleQubitErrorRate = rate
		ch.TwoQubitErrorRate = rate
		s.Noise = &ch

		res, err := r.Run(ctx, s)
		if err != nil {
			return nil, errors.Wrapf(err, "sweep rate %g", rate)
		}
		p := SweepPoint{ErrorRate: rate, Spread: res.Spread, Estimates: res.Estimates, RunID: res.RunID}
		if len(res.Estimates) > 0 {
			p.TopEnergy = res.Estimates[0].Energy
			p.TopError = res.Estimates[0].AbsoluteError
		}
		r.logger.Debug("sweep point", zap.Float64("rate", rate), zap.Float64("spread", p.Spread))
		points = append(points, p)
	}
	return points, nil
}
