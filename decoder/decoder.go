// Package decoder turns measured phase bitstrings into energy estimates and
// compares them with reference eigenvalues.
package decoder

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/perclft/sshqpe/errdefs"
)

// DefaultTopK is the number of rows kept when Options.TopK is unset.
const DefaultTopK = 6

// Estimate is one decoded measurement outcome.
type Estimate struct {
	Bitstring        string  `json:"bitstring"`
	Count            int     `json:"count"`
	Probability      float64 `json:"probability"`
	RawPhase         float64 `json:"raw_phase"`
	CorrectedPhase   float64 `json:"corrected_phase"`
	Energy           float64 `json:"energy"`
	NearestReference float64 `json:"nearest_reference"`
	AbsoluteError    float64 `json:"absolute_error"`
}

type Options struct {
	// Duration is the evolution time t used to build the circuit.
	Duration float64
	// Reference holds the classical eigenvalues to compare against.
	Reference []float64
	// TopK limits the result; <= 0 means DefaultTopK.
	TopK int
}

// RawPhase reads the bitstring as an unsigned integer, first character most
// significant, divided by 2^len.
func RawPhase(bitstring string) (float64, error) {
	if bitstring == "" || len(bitstring) > 62 {
		return 0, errdefs.InvalidParameter("bitstring", bitstring, "must hold 1 to 62 bits")
	}
	v, err := strconv.ParseUint(bitstring, 2, 64)
	if err != nil {
		return 0, errdefs.InvalidParameter("bitstring", bitstring, "must be binary")
	}
	return float64(v) / math.Exp2(float64(len(bitstring))), nil
}

// CorrectPhase maps [0, 1) onto [-0.5, 0.5): phases from one half up belong
// to negative energies.
func CorrectPhase(raw float64) float64 {
	if raw >= 0.5 {
		return raw - 1
	}
	return raw
}

// Energy converts a corrected phase to an energy for evolution time t.
func Energy(corrected, duration float64) float64 {
	return corrected * 2 * math.Pi / duration
}

// Encode is the inverse of decoding: the n-bit outcome an ideal estimation
// of energy e with evolution time t peaks at.
func Encode(e, duration float64, n int) string {
	size := math.Exp2(float64(n))
	phase := e * duration / (2 * math.Pi)
	phase -= math.Floor(phase)
	k := uint64(math.Round(phase*size)) % uint64(size)
	return fmt.Sprintf("%0*b", n, k)
}

// Resolution is the energy spacing of n evaluation bits at time t.
func Resolution(n int, duration float64) float64 {
	return 2 * math.Pi / (duration * math.Exp2(float64(n)))
}

// Decode ranks outcomes by descending count, ties by ascending bitstring,
// and decodes the top K.
func Decode(counts map[string]int, opts Options) ([]Estimate, error) {
	if opts.Duration <= 0 || math.IsNaN(opts.Duration) || math.IsInf(opts.Duration, 0) {
		return nil, errdefs.InvalidParameter("evolution_time", opts.Duration, "must be a finite value > 0")
	}
	if len(opts.Reference) == 0 {
		return nil, errdefs.InvalidParameter("reference", 0, "at least one reference eigenvalue is required")
	}
	total, err := checkCounts(counts)
	if err != nil {
		return nil, err
	}
	k := opts.TopK
	if k <= 0 {
		k = DefaultTopK
	}

	keys := make([]string, 0, len(counts))
	for b := range counts {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := counts[keys[i]], counts[keys[j]]
		if ci != cj {
			return ci > cj
		}
		return keys[i] < keys[j]
	})
	if len(keys) > k {
		keys = keys[:k]
	}

	out := make([]Estimate, 0, len(keys))
	for _, b := range keys {
		raw, err := RawPhase(b)
		if err != nil {
			return nil, err
		}
		corrected := CorrectPhase(raw)
		e := Energy(corrected, opts.Duration)
		nearest := Nearest(opts.Reference, e)
		out = append(out, Estimate{
			Bitstring:        b,
			Count:            counts[b],
			Probability:      float64(counts[b]) / float64(total),
			RawPhase:         raw,
			CorrectedPhase:   corrected,
			Energy:           e,
			NearestReference: nearest,
			AbsoluteError:    math.Abs(e - nearest),
		})
	}
	return out, nil
}

// Nearest returns the reference value closest to e; ties go to the earlier
// value.
func Nearest(reference []float64, e float64) float64 {
	best := reference[0]
	for _, r := range reference[1:] {
		if math.Abs(r-e) < math.Abs(best-e) {
			best = r
		}
	}
	return best
}

// Spread is the count-weighted standard deviation of the corrected phase
// over every outcome. Noise flattens the distribution and raises it.
func Spread(counts map[string]int) (float64, error) {
	total, err := checkCounts(counts)
	if err != nil {
		return 0, err
	}
	var mean float64
	phases := make(map[string]float64, len(counts))
	for b, n := range counts {
		raw, err := RawPhase(b)
		if err != nil {
			return 0, err
		}
		phases[b] = CorrectPhase(raw)
		mean += float64(n) * phases[b]
	}
	mean /= float64(total)
	var variance float64
	for b, n := range counts {
		d := phases[b] - mean
		variance += float64(n) * d * d
	}
	return math.Sqrt(variance / float64(total)), nil
}

func checkCounts(counts map[string]int) (int, error) {
	total, width := 0, -1
	for b, n := range counts {
		if n < 0 {
			return 0, errdefs.InvalidParameter("counts", n, "counts must be non-negative")
		}
		if width >= 0 && len(b) != width {
			return 0, errdefs.InvalidParameter("counts", b, "bitstrings differ in length")
		}
		width = len(b)
		total += n
	}
	if total == 0 {
		return 0, errdefs.InvalidParameter("counts", 0, "no shots recorded")
	}
	return total, nil
}

// WriteTable prints estimates as an aligned text table.
func WriteTable(w io.Writer, estimates []Estimate) error {
	if _, err := fmt.Fprintf(w, "%-10s | %-6s | %-8s | %-12s | %-10s | %s\n",
		"Bitstring", "Prob", "Phase", "Energy (Est)", "Nearest", "Error"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", 72)); err != nil {
		return err
	}
	for _, e := range estimates {
		if _, err := fmt.Fprintf(w, "%-10s | %-6.3f | %-8.4f | %-12.4f | %-10.4f | %.4f\n",
			e.Bitstring, e.Probability, e.CorrectedPhase, e.Energy, e.NearestReference, e.AbsoluteError); err != nil {
			return err
		}
	}
	return nil
}
