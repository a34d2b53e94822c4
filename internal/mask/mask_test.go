package mask

import (
	"math"
	"testing"
)

func TestAtomMaskBoxcar(t *testing.T) {
	p := Params{Mode: Boxcar, TargetTDOAIndex: 5, TargetTDOAEpsilon: 2}
	a := []int{3, 4, 5, 6, 9}
	m := AtomMask(a, p)
	want := []float64{0, 1, 1, 1, 0}
	for i := range want {
		if m[i] != want[i] {
			t.Errorf("m[%d] = %v, want %v (a=%d)", i, m[i], want[i], a[i])
		}
	}
}

func TestAtomMaskGeneralizedGaussianPeaksAtTarget(t *testing.T) {
	p := Params{Mode: GeneralizedGaussian, TargetTDOAIndex: 5, TargetTDOAEpsilon: 2, TargetTDOABeta: 2, TargetTDOANoiseFloor: 0}
	a := []int{5, 6, 10}
	m := AtomMask(a, p)
	if m[0] <= m[1] || m[1] <= m[2] {
		t.Errorf("expected mask to decay with distance from target, got %v", m)
	}
	if math.Abs(m[0]-1) > 1e-9 {
		t.Errorf("mask at the target TDOA = %v, want 1", m[0])
	}
}

func TestAtomMaskGeneralizedGaussianNoiseFloor(t *testing.T) {
	p := Params{Mode: GeneralizedGaussian, TargetTDOAIndex: 0, TargetTDOAEpsilon: 1, TargetTDOABeta: 2, TargetTDOANoiseFloor: 0.1}
	m := AtomMask([]int{1000}, p)
	if m[0] < p.TargetTDOANoiseFloor-1e-9 {
		t.Errorf("mask = %v, should not fall below noise floor %v", m[0], p.TargetTDOANoiseFloor)
	}
}

func TestTimeFrequencyMaskWeightedAverage(t *testing.T) {
	// 2 frequencies, 2 atoms.
	w := [][]float64{
		{1, 3},
		{2, 2},
	}
	m := []float64{1, 0} // select only atom 0
	colSum := ColumnSums(w)
	tfm := TimeFrequencyMask(w, m, colSum, 1e-10)
	want := []float64{1.0 / 4.0, 2.0 / 4.0}
	for i := range want {
		if math.Abs(tfm[i]-want[i]) > 1e-9 {
			t.Errorf("M[%d] = %v, want %v", i, tfm[i], want[i])
		}
	}
}

func TestUnityMaskIsAllOnes(t *testing.T) {
	m := Unity(4)
	for i, v := range m {
		if v != 1 {
			t.Errorf("Unity()[%d] = %v, want 1", i, v)
		}
	}
}

func TestApplyMaskScalesSpectrum(t *testing.T) {
	spectrum := []complex128{complex(2, 0), complex(0, 3)}
	m := []float64{0.5, 2}
	out := ApplyMask(spectrum, m)
	if out[0] != complex(1, 0) {
		t.Errorf("out[0] = %v, want 1+0i", out[0])
	}
	if out[1] != complex(0, 6) {
		t.Errorf("out[1] = %v, want 0+6i", out[1])
	}
}
