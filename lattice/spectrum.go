package lattice

import (
	"math"
	"math/bits"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/perclft/sshqpe/errdefs"
)

const symmetryTolerance = 1e-12

// MaxManyBodySites bounds ManyBodySpectrum, which lists 2^sites energies.
const MaxManyBodySites = 20

// Symmetric checks that m equals its transpose and returns it in packed
// symmetric form. A real Hamiltonian must pass before it is diagonalized.
func Symmetric(m mat.Matrix) (*mat.SymDense, error) {
	r, c := m.Dims()
	if r != c {
		return nil, errors.Errorf("matrix is %dx%d, not square", r, c)
	}
	if !mat.EqualApprox(m, m.T(), symmetryTolerance) {
		return nil, errors.New("matrix is not Hermitian")
	}
	s := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			s.SetSym(i, j, m.At(i, j))
		}
	}
	return s, nil
}

// Eigenvalues returns the eigenvalues of a real symmetric matrix in
// ascending order.
func Eigenvalues(m mat.Matrix) ([]float64, error) {
	s, err := Symmetric(m)
	if err != nil {
		return nil, err
	}
	var es mat.EigenSym
	if !es.Factorize(s, false) {
		return nil, errors.New("eigendecomposition did not converge")
	}
	return es.Values(nil), nil
}

// Eigensystem returns ascending eigenvalues and the matching orthonormal
// eigenvectors as columns.
func Eigensystem(m mat.Matrix) ([]float64, *mat.Dense, error) {
	s, err := Symmetric(m)
	if err != nil {
		return nil, nil, err
	}
	var es mat.EigenSym
	if !es.Factorize(s, true) {
		return nil, nil, errors.New("eigendecomposition did not converge")
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	return es.Values(nil), &vecs, nil
}

// SingleParticleSpectrum diagonalizes the tight-binding matrix.
func SingleParticleSpectrum(p Parameters) ([]float64, error) {
	tb, err := TightBinding(p)
	if err != nil {
		return nil, err
	}
	vals, err := Eigenvalues(tb)
	if err != nil {
		return nil, errors.Wrap(err, "diagonalize tight-binding matrix")
	}
	return vals, nil
}

// ManyBodySpectrum lists every eigenvalue of the qubit operator, sorted.
// The chain maps to free fermions, so each eigenvalue is the sum of the
// single-particle energies of one occupied subset of modes.
func ManyBodySpectrum(single []float64) ([]float64, error) {
	n := len(single)
	if n > MaxManyBodySites {
		return nil, errdefs.InvalidParameter("num_sites", n,
			"many-body reference is limited to 20 sites")
	}
	out := make([]float64, 1<<n)
	for mask := 1; mask < len(out); mask++ {
		low := mask & -mask
		out[mask] = out[mask^low] + single[bits.TrailingZeros(uint(low))]
	}
	sort.Float64s(out)
	return out, nil
}

// NearestToZero returns the k values of smallest magnitude, closest first.
func NearestToZero(values []float64, k int) []float64 {
	sorted := append([]float64(nil), values...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ai, aj := math.Abs(sorted[i]), math.Abs(sorted[j])
		if ai != aj {
			return ai < aj
		}
		return sorted[i] < sorted[j]
	})
	if k > len(sorted) {
		k = len(sorted)
	}
	return sorted[:k]
}

// BoundaryGap measures how far the two single-particle levels closest to
// zero sit from the rest of the spectrum: the smallest remaining magnitude
// minus the larger of the two. It is large in the topological phase, where
// the pair are edge modes, and shrinks toward zero at v == w.
func BoundaryGap(single []float64) float64 {
	if len(single) < 3 {
		return 0
	}
	near := NearestToZero(single, 3)
	return math.Abs(near[2]) - math.Abs(near[1])
}

// SweepPoint is the single-particle spectrum at one intercell hopping.
type SweepPoint struct {
	Intercell float64   `json:"intercell_hopping"`
	Energies  []float64 `json:"energies"`
	Gap       float64   `json:"boundary_gap"`
}

// SweepIntercell diagonalizes the chain for each intercell hopping in ws,
// keeping UnitCells and Intracell from p. This is the data behind the usual
// SSH phase diagram.
func SweepIntercell(p Parameters, ws []float64) ([]SweepPoint, error) {
	points := make([]SweepPoint, 0, len(ws))
	for _, w := range ws {
		q := p
		q.Intercell = w
		vals, err := SingleParticleSpectrum(q)
		if err != nil {
			return nil, errors.Wrapf(err, "sweep w=%g", w)
		}
		points = append(points, SweepPoint{Intercell: w, Energies: vals, Gap: BoundaryGap(vals)})
	}
	return points, nil
}
