package batch

import (
	"math"
	"testing"

	"gccnmf/internal/wavio"
)

func sineWave(freq float64, sampleRate, n int, phase float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)+phase))
	}
	return out
}

func TestRunRejectsNonStereoInput(t *testing.T) {
	samples := &wavio.Samples{SampleRate: 16000, Channels: [][]float32{make([]float32, 4096)}}
	if _, err := Run(samples, Config{WindowSize: 512, HopSize: 256, NumTDOAs: 8, DictionarySize: 4, NumIterations: 2, Epsilon: 1e-10}); err == nil {
		t.Fatal("expected error for mono input")
	}
}

func TestRunRejectsTooShortInput(t *testing.T) {
	samples := &wavio.Samples{
		SampleRate: 16000,
		Channels:   [][]float32{make([]float32, 10), make([]float32, 10)},
	}
	cfg := Config{WindowSize: 1024, HopSize: 512, NumTDOAs: 8, DictionarySize: 4, NumIterations: 2, Epsilon: 1e-10}
	if _, err := Run(samples, cfg); err == nil {
		t.Fatal("expected error for input shorter than one window")
	}
}

func TestLocalMaximaFindsInteriorPeaks(t *testing.T) {
	x := []float64{0, 1, 0, 2, 1, 0, 3, 0}
	peaks := localMaxima(x)
	want := []int{1, 3, 6}
	if len(peaks) != len(want) {
		t.Fatalf("peaks = %v, want %v", peaks, want)
	}
	for i := range want {
		if peaks[i] != want[i] {
			t.Errorf("peaks[%d] = %d, want %d", i, peaks[i], want[i])
		}
	}
}

func TestSelectTargetTDOAsWithExplicitCount(t *testing.T) {
	angular := []float64{0, 1, 0, 5, 0, 2, 0}
	selected := selectTargetTDOAs(angular, 2)
	want := []int{3, 5}
	if len(selected) != len(want) {
		t.Fatalf("selected = %v, want %v", selected, want)
	}
	for i := range want {
		if selected[i] != want[i] {
			t.Errorf("selected[%d] = %d, want %d", i, selected[i], want[i])
		}
	}
}

func TestSelectTargetTDOAsAutoClusters(t *testing.T) {
	// Two strong peaks (sources) and one weak peak (noise floor).
	angular := []float64{0, 0.1, 0, 8, 0, 0.05, 0, 9, 0}
	selected := selectTargetTDOAs(angular, 0)
	if len(selected) != 2 {
		t.Fatalf("selected = %v, want 2 strong peaks", selected)
	}
	if selected[0] != 3 || selected[1] != 7 {
		t.Errorf("selected = %v, want [3 7]", selected)
	}
}

func TestRunEndToEndProducesResults(t *testing.T) {
	sampleRate := 16000
	n := sampleRate * 1 // 1 second
	left := sineWave(440, sampleRate, n, 0)
	right := sineWave(440, sampleRate, n, 0.05)
	samples := &wavio.Samples{SampleRate: sampleRate, Channels: [][]float32{left, right}}

	cfg := Config{
		WindowSize:                   512,
		HopSize:                      256,
		MicrophoneSeparationInMetres: 0.1,
		NumTDOAs:                     16,
		DictionarySize:               8,
		NumIterations:                5,
		SparsityAlpha:                0,
		NumTargets:                   1,
		Seed:                         1,
		Epsilon:                      1e-10,
	}
	results, err := Run(samples, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if len(results[0].Left) == 0 || len(results[0].Right) == 0 {
		t.Error("expected non-empty reconstructed signal")
	}
}
