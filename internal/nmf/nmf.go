// Package nmf implements multiplicative-update NMF under KL divergence
// (spec.md §4.4, C4). It is grounded on gccNMFFunctions.py's
// performKLNMF, rewritten against gonum/mat dense matrices instead of
// numpy arrays.
package nmf

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidInput is returned when V contains non-finite or negative
// entries, per spec.md §7's InvalidInput kind.
var ErrInvalidInput = errors.New("nmf: invalid input")

// RNG is the seeded source of randomness for dictionary initialization,
// kept as a thin wrapper so callers (the dictionary store) can derive
// independent streams from a single configured seed.
type RNG struct {
	r *rand.Rand
}

// NewRNG seeds a deterministic generator. The same seed always produces
// the same trajectory, per spec.md §4.4's reproducibility requirement.
func NewRNG(seed uint64) *RNG {
	return &RNG{r: rand.New(rand.NewSource(int64(seed)))}
}

// Float64 returns a uniform value in (0, 1].
func (g *RNG) Float64() float64 {
	v := g.r.Float64()
	if v == 0 {
		return 1
	}
	return v
}

// KLNMF factorizes non-negative V (F x T) into W (F x K) and H (K x T)
// minimizing KL(V || WH), with optional L1 sparsity alpha on H and
// column-normalization of W after every iteration. epsilon guards every
// division against zero.
func KLNMF(v *mat.Dense, k, iterations int, alpha, epsilon float64, seed uint64) (w, h *mat.Dense, err error) {
	if err := validate(v); err != nil {
		return nil, nil, err
	}
	f, t := v.Dims()
	rng := NewRNG(seed)

	w = mat.NewDense(f, k, nil)
	w.Apply(func(_, _ int, _ float64) float64 { return rng.Float64() + epsilon }, w)
	h = mat.NewDense(k, t, nil)
	h.Apply(func(_, _ int, _ float64) float64 { return rng.Float64() + epsilon }, h)

	wh := mat.NewDense(f, t, nil)
	ratio := mat.NewDense(f, t, nil)
	wT := mat.NewDense(k, f, nil)
	hT := mat.NewDense(t, k, nil)

	for iter := 0; iter < iterations; iter++ {
		wh.Mul(w, h)
		clampMin(wh, epsilon)
		ratio.DivElem(v, wh)

		// H update: H *= (Wᵀ·ratio) / (colSum(W) + alpha + eps), broadcast
		// down the rows of H.
		wT.CloneFrom(w.T())
		numH := mat.NewDense(k, t, nil)
		numH.Mul(wT, ratio)
		colSumW := colSum(w)
		for r := 0; r < k; r++ {
			denom := colSumW[r] + alpha + epsilon
			for c := 0; c < t; c++ {
				h.Set(r, c, h.At(r, c)*numH.At(r, c)/denom)
			}
		}

		wh.Mul(w, h)
		clampMin(wh, epsilon)
		ratio.DivElem(v, wh)

		// W update: W *= (ratio·Hᵀ) / rowSum(H), broadcast across the
		// columns of W.
		hT.CloneFrom(h.T())
		numW := mat.NewDense(f, k, nil)
		numW.Mul(ratio, hT)
		rowSumH := rowSum(h)
		for c := 0; c < k; c++ {
			denom := rowSumH[c] + epsilon
			for r := 0; r < f; r++ {
				w.Set(r, c, w.At(r, c)*numW.At(r, c)/denom)
			}
		}

		normalizeColumns(w, h, epsilon)
	}

	return w, h, nil
}

func validate(v *mat.Dense) error {
	rows, cols := v.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x := v.At(r, c)
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("%w: V[%d,%d] is non-finite", ErrInvalidInput, r, c)
			}
			if x < 0 {
				return fmt.Errorf("%w: V[%d,%d] = %v is negative", ErrInvalidInput, r, c, x)
			}
		}
	}
	return nil
}

func clampMin(m *mat.Dense, floor float64) {
	m.Apply(func(_, _ int, v float64) float64 {
		if v < floor {
			return floor
		}
		return v
	}, m)
}

func colSum(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	sums := make([]float64, cols)
	for c := 0; c < cols; c++ {
		var s float64
		for r := 0; r < rows; r++ {
			s += m.At(r, c)
		}
		sums[c] = s
	}
	return sums
}

func rowSum(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	sums := make([]float64, rows)
	for r := 0; r < rows; r++ {
		var s float64
		for c := 0; c < cols; c++ {
			s += m.At(r, c)
		}
		sums[r] = s
	}
	return sums
}

// normalizeColumns rescales each column of W to unit L2 norm, compensating
// H's corresponding row so that WH is unchanged (spec.md §4.4 step 3).
func normalizeColumns(w, h *mat.Dense, epsilon float64) {
	f, k := w.Dims()
	_, t := h.Dims()
	for c := 0; c < k; c++ {
		var sumSq float64
		for r := 0; r < f; r++ {
			x := w.At(r, c)
			sumSq += x * x
		}
		norm := math.Sqrt(sumSq)
		if norm < epsilon {
			norm = epsilon
		}
		for r := 0; r < f; r++ {
			w.Set(r, c, w.At(r, c)/norm)
		}
		for col := 0; col < t; col++ {
			h.Set(c, col, h.At(c, col)*norm)
		}
	}
}

// KLDivergence computes KL(V || WH) elementwise, the monitoring
// statistic used by spec.md §8's monotonicity property:
// sum(V*log(V/WH) - V + WH), with 0*log(0) treated as 0.
func KLDivergence(v, w, h *mat.Dense) float64 {
	f, t := v.Dims()
	wh := mat.NewDense(f, t, nil)
	wh.Mul(w, h)

	var total float64
	for r := 0; r < f; r++ {
		for c := 0; c < t; c++ {
			vv := v.At(r, c)
			whv := wh.At(r, c)
			if whv <= 0 {
				whv = 1e-300
			}
			if vv > 0 {
				total += vv*math.Log(vv/whv) - vv + whv
			} else {
				total += whv
			}
		}
	}
	return total
}
