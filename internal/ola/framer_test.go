package ola

import (
	"math"
	"testing"
)

func identity(frames [][][]float64) [][][]float64 { return frames }

func TestNewValidatesGeometry(t *testing.T) {
	if _, err := New(2, 1024, 500, 512, 8); err == nil {
		t.Error("expected error: blockSize not a multiple of hopSize")
	}
	if _, err := New(2, 1024, 512, 512, 2); err == nil {
		t.Error("expected error: numBlocksPerBuf < 3")
	}
	if _, err := New(2, 1024, 512, 512, 8); err != nil {
		t.Errorf("unexpected error for valid geometry: %v", err)
	}
}

func TestPassthroughSilence(t *testing.T) {
	f, err := New(2, 1024, 512, 512, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	zeros := [][]float64{make([]float64, 512), make([]float64, 512)}
	for i := 0; i < 10; i++ {
		out, err := f.ProcessBlock(zeros, identity)
		if err != nil {
			t.Fatalf("ProcessBlock: %v", err)
		}
		for c := range out {
			for _, v := range out[c] {
				if math.Abs(v) > 1e-5 {
					t.Fatalf("block %d channel %d: expected silence, got %v", i, c, v)
				}
			}
		}
	}
}

// TestCOLAReconstruction drives enough sine-wave blocks through the
// framer with an identity processFunc to reach the steady-state region,
// then checks that the delayed output matches the input within the
// float32-class tolerance from spec.md's COLA property.
func TestCOLAReconstruction(t *testing.T) {
	windowSize, hopSize, blockSize, nblk := 1024, 512, 512, 8
	f, err := New(1, windowSize, hopSize, blockSize, nblk)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const freq = 0.01
	sample := func(n int) float64 { return math.Sin(2 * math.Pi * freq * float64(n)) }

	numBlocks := 40
	var allInput []float64
	var allOutput []float64
	n := 0
	for b := 0; b < numBlocks; b++ {
		block := make([]float64, blockSize)
		for i := range block {
			block[i] = sample(n)
			n++
		}
		allInput = append(allInput, block...)
		out, err := f.ProcessBlock([][]float64{block}, identity)
		if err != nil {
			t.Fatalf("ProcessBlock: %v", err)
		}
		allOutput = append(allOutput, out[0]...)
	}

	latency := f.Latency()
	// Compare a steady-state window well past the startup transient and
	// well before the end of the run.
	start := latency + blockSize*4
	end := len(allOutput) - blockSize*4
	var maxErr float64
	for i := start; i < end; i++ {
		inIdx := i - latency
		if inIdx < 0 || inIdx >= len(allInput) {
			continue
		}
		d := math.Abs(allOutput[i] - allInput[inIdx])
		if d > maxErr {
			maxErr = d
		}
	}
	if maxErr > 1e-5 {
		t.Errorf("COLA reconstruction max error = %v, want <= 1e-5", maxErr)
	}
}
