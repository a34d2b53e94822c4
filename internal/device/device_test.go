package device

import "testing"

func TestDeinterleaveInterleaveRoundTrip(t *testing.T) {
	frames := 4
	channels := 2
	buf := make([]byte, frames*channels*4)
	want := [][]float32{
		{0, 0.25, -0.5, 1},
		{1, -1, 0.5, -0.25},
	}
	interleaveF32(buf, want, channels, frames)

	got := deinterleaveF32(buf, channels, frames)
	for c := range want {
		for i := range want[c] {
			if got[c][i] != want[c][i] {
				t.Errorf("channel %d sample %d = %v, want %v", c, i, got[c][i], want[c][i])
			}
		}
	}
}

func TestDeinterleaveShortBufferReturnsZeroed(t *testing.T) {
	buf := make([]byte, 2)
	out := deinterleaveF32(buf, 2, 4)
	if len(out) != 2 || len(out[0]) != 4 {
		t.Fatalf("unexpected shape: %d channels, %d frames", len(out), len(out[0]))
	}
	for _, ch := range out {
		for _, v := range ch {
			if v != 0 {
				t.Errorf("expected zeroed output for undersized buffer, got %v", v)
			}
		}
	}
}
