package gccphat

import (
	"math"
	"math/cmplx"
	"testing"
)

func TestFrequencyAxisEndpoints(t *testing.T) {
	c := New(Config{NumFrequencies: 5, SampleRate: 16000, NumTDOAs: 3, MicrophoneSeparationMetres: 0.1})
	if c.freq[0] != 0 {
		t.Errorf("freq[0] = %v, want 0", c.freq[0])
	}
	want := 8000.0
	if got := c.freq[len(c.freq)-1]; math.Abs(got-want) > 1e-9 {
		t.Errorf("freq[last] = %v, want %v (Nyquist)", got, want)
	}
}

func TestCoherenceIsUnitMagnitude(t *testing.T) {
	x0 := []complex128{complex(1, 2), complex(3, -1)}
	x1 := []complex128{complex(0.5, -0.5), complex(-2, 1)}
	v := Coherence(x0, x1)
	for i, c := range v {
		mag := cmplx.Abs(c)
		if math.Abs(mag-1) > 1e-9 {
			t.Errorf("|V[%d]| = %v, want 1", i, mag)
		}
	}
}

func TestCoherenceGuardsSilence(t *testing.T) {
	x0 := []complex128{0, complex(1, 0)}
	x1 := []complex128{0, complex(1, 0)}
	v := Coherence(x0, x1)
	if v[0] != 0 {
		t.Errorf("V[0] = %v, want 0 for silent bin", v[0])
	}
}

func TestAtomTDOAAssignmentPicksArgmax(t *testing.T) {
	// D=3, K=2: atom 0 peaks at d=1, atom 1 peaks at d=2.
	p := [][]float64{
		{0.1, 0.0},
		{0.9, 0.2},
		{0.0, 0.8},
	}
	a := AtomTDOAAssignment(p)
	if a[0] != 1 {
		t.Errorf("a[0] = %d, want 1", a[0])
	}
	if a[1] != 2 {
		t.Errorf("a[1] = %d, want 2", a[1])
	}
}

func TestAtomProjectionsMatchesManualGEMM(t *testing.T) {
	g := [][]float64{
		{1, 2},
		{3, 4},
	}
	w := [][]float64{
		{1, 0},
		{0, 1},
	}
	p := AtomProjections(g, w)
	// P = Gᵀ·W, computed manually:
	// G is F x D = 2x2: [[1,2],[3,4]]; W is F x K = 2x2: [[1,0],[0,1]]
	// P[d,k] = sum_f G[f,d]*W[f,k]
	want := [][]float64{
		{1, 3},
		{2, 4},
	}
	for d := range want {
		for k := range want[d] {
			if math.Abs(p[d][k]-want[d][k]) > 1e-9 {
				t.Errorf("P[%d][%d] = %v, want %v", d, k, p[d][k], want[d][k])
			}
		}
	}
}

func TestAngularSpectrumMeanIgnoresNaN(t *testing.T) {
	g := [][]float64{
		{1, math.NaN()},
		{3, 5},
	}
	mean := AngularSpectrumMean(g)
	if math.Abs(mean[0]-2) > 1e-9 {
		t.Errorf("mean[0] = %v, want 2", mean[0])
	}
	if math.Abs(mean[1]-5) > 1e-9 {
		t.Errorf("mean[1] = %v, want 5 (NaN excluded)", mean[1])
	}
}

func TestSteeringMatrixRecomputeChangesTDOAs(t *testing.T) {
	c1 := New(Config{NumFrequencies: 5, SampleRate: 16000, NumTDOAs: 4, MicrophoneSeparationMetres: 0.1})
	c2 := New(Config{NumFrequencies: 5, SampleRate: 16000, NumTDOAs: 4, MicrophoneSeparationMetres: 0.2})
	if c1.TDOAs()[len(c1.TDOAs())-1] == c2.TDOAs()[len(c2.TDOAs())-1] {
		t.Error("expected different max TDOA for different microphone separations")
	}
}
