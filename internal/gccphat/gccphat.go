// Package gccphat implements the GCC-PHAT core (spec.md §4.5, C5): the
// phase-transform coherence, the TDOA steering matrix, and the per-atom
// angular projections that feed the mask engine. It is grounded on
// gccNMFFunctions.py's getGCCPHAT/getSteeringVectors and on the
// teacher's mel_spectrogram.go for the gonum/dsp/fourier wiring.
package gccphat

import (
	"math"
	"math/cmplx"
)

// SpeedOfSoundMetresPerSecond is the constant used to convert a
// microphone separation into a maximum TDOA, per spec.md §3.
const SpeedOfSoundMetresPerSecond = 340.29

// Epsilon guards every division in this package against division by
// silence, per spec.md §4.5's numerical policy.
const Epsilon = 1e-10

// Config holds the parameters that determine the steering matrix.
// Recomputing Core is only necessary when one of these changes
// (spec.md §3's "Recomputed only when D, Fs, W, or microphoneSeparation
// change").
type Config struct {
	NumFrequencies            int // F = W/2 + 1
	SampleRate                int
	NumTDOAs                  int // D
	MicrophoneSeparationMetres float64
}

// Core owns the steering matrix E (F x D) for a fixed Config.
type Core struct {
	cfg  Config
	freq []float64    // F
	tau  []float64    // D, TDOA hypotheses in seconds
	e    [][]complex128 // F x D
}

// New builds the steering matrix for cfg.
func New(cfg Config) *Core {
	c := &Core{cfg: cfg}
	c.freq = frequencyAxis(cfg.NumFrequencies, cfg.SampleRate)
	tauMax := cfg.MicrophoneSeparationMetres / SpeedOfSoundMetresPerSecond
	c.tau = linspace(-tauMax, tauMax, cfg.NumTDOAs)
	c.e = make([][]complex128, cfg.NumFrequencies)
	for f := 0; f < cfg.NumFrequencies; f++ {
		c.e[f] = make([]complex128, cfg.NumTDOAs)
		for d := 0; d < cfg.NumTDOAs; d++ {
			phase := -2 * math.Pi * c.freq[f] * c.tau[d]
			c.e[f][d] = cmplx.Exp(complex(0, phase))
		}
	}
	return c
}

// frequencyAxis returns freq(f) = f*Fs/(2*(F-1)), linear from 0 to
// Fs/2 inclusive, per spec.md §4.5.
func frequencyAxis(numFreq, sampleRate int) []float64 {
	freq := make([]float64, numFreq)
	if numFreq < 2 {
		return freq
	}
	denom := 2 * float64(numFreq-1)
	for f := 0; f < numFreq; f++ {
		freq[f] = float64(f) * float64(sampleRate) / denom
	}
	return freq
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := 0; i < n; i++ {
		out[i] = lo + step*float64(i)
	}
	return out
}

// Config returns the configuration the steering matrix was built for.
func (c *Core) Config() Config { return c.cfg }

// TDOAs returns the D sampled TDOA hypotheses in seconds.
func (c *Core) TDOAs() []float64 { return c.tau }

// SteeringColumn returns E[:,d], the per-frequency steering vector for
// TDOA hypothesis d, used by the batch pipeline to compute per-atom GCC
// at a single selected TDOA (spec.md §4.9 step 8).
func (c *Core) SteeringColumn(d int) []complex128 {
	col := make([]complex128, c.cfg.NumFrequencies)
	for f := 0; f < c.cfg.NumFrequencies; f++ {
		col[f] = c.e[f][d]
	}
	return col
}

// Coherence computes V[f] = X0[f]*conj(X1[f]) / (|X0[f]|*|X1[f]|) for one
// frame of the two channels' spectra, guarding against silence: bins
// whose magnitude product falls below Epsilon are zeroed rather than
// producing NaN (spec.md §4.5).
func Coherence(x0, x1 []complex128) []complex128 {
	v := make([]complex128, len(x0))
	for f := range x0 {
		mag := cmplx.Abs(x0[f]) * cmplx.Abs(x1[f])
		if mag < Epsilon {
			v[f] = 0
			continue
		}
		v[f] = x0[f] * cmplx.Conj(x1[f]) / complex(mag, 0)
	}
	return v
}

// AngularSpectrum computes G[f,d] = Re(V[f]*E[f,d]) for one frame's
// coherence vector, per spec.md §3's AngularTensor definition.
func (c *Core) AngularSpectrum(v []complex128) [][]float64 {
	f := c.cfg.NumFrequencies
	d := c.cfg.NumTDOAs
	g := make([][]float64, f)
	for fi := 0; fi < f; fi++ {
		g[fi] = make([]float64, d)
		for di := 0; di < d; di++ {
			g[fi][di] = real(v[fi] * c.e[fi][di])
		}
	}
	return g
}

// AtomProjections computes P = Gᵀ·W (D x K), the per-atom projection
// onto each TDOA hypothesis for one frame, per spec.md §3's
// AtomAngularProjection.
func AtomProjections(g [][]float64, w [][]float64) [][]float64 {
	numFreq := len(g)
	numTDOA := 0
	if numFreq > 0 {
		numTDOA = len(g[0])
	}
	numAtoms := 0
	if numFreq > 0 {
		numAtoms = len(w[0])
	}
	p := make([][]float64, numTDOA)
	for d := 0; d < numTDOA; d++ {
		p[d] = make([]float64, numAtoms)
	}
	for f := 0; f < numFreq; f++ {
		gRow := g[f]
		wRow := w[f]
		for d := 0; d < numTDOA; d++ {
			gv := gRow[d]
			if gv == 0 {
				continue
			}
			pRow := p[d]
			for k := 0; k < numAtoms; k++ {
				pRow[k] += gv * wRow[k]
			}
		}
	}
	return p
}

// AtomTDOAAssignment returns a[k] = argmax_d P[d,k] for every atom k,
// per spec.md §3's AtomTDOAAssignment.
func AtomTDOAAssignment(p [][]float64) []int {
	numTDOA := len(p)
	if numTDOA == 0 {
		return nil
	}
	numAtoms := len(p[0])
	a := make([]int, numAtoms)
	for k := 0; k < numAtoms; k++ {
		best := 0
		bestVal := math.Inf(-1)
		for d := 0; d < numTDOA; d++ {
			if v := p[d][k]; v > bestVal {
				bestVal = v
				best = d
			}
		}
		a[k] = best
	}
	return a
}

// AngularSpectrumMean reduces G[f,d] across frequency with a nan-safe
// mean, per spec.md §4.5, producing the per-TDOA angular spectrum used
// for history display and for batch peak-picking localization.
func AngularSpectrumMean(g [][]float64) []float64 {
	numFreq := len(g)
	if numFreq == 0 {
		return nil
	}
	numTDOA := len(g[0])
	out := make([]float64, numTDOA)
	for d := 0; d < numTDOA; d++ {
		var sum float64
		var n int
		for f := 0; f < numFreq; f++ {
			v := g[f][d]
			if math.IsNaN(v) {
				continue
			}
			sum += v
			n++
		}
		if n > 0 {
			out[d] = sum / float64(n)
		}
	}
	return out
}
