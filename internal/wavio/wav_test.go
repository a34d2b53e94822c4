package wavio

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestPCMFloatRoundTrip(t *testing.T) {
	cases := []int16{0, 1, -1, 32767, -32768, 16384, -16384}
	for _, pcm := range cases {
		f := PCMToFloat(pcm)
		back := FloatToPCM(f)
		if math.Abs(float64(back-pcm)) > 1 {
			t.Errorf("PCM %d -> float %v -> PCM %d: drift too large", pcm, f, back)
		}
	}
}

func TestFloatToPCMClips(t *testing.T) {
	if got := FloatToPCM(2.0); got != 32767 {
		t.Errorf("FloatToPCM(2.0) = %d, want 32767", got)
	}
	if got := FloatToPCM(-2.0); got != -32767 {
		t.Errorf("FloatToPCM(-2.0) = %d, want -32767", got)
	}
}

func TestWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")

	w, err := NewWriter(path, 16000, 2)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	left := []float32{0, 0.5, -0.5, 1, -1}
	right := []float32{0, -0.5, 0.5, -1, 1}
	if err := w.WriteChannels([][]float32{left, right}); err != nil {
		t.Fatalf("WriteChannels: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	samples, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if samples.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", samples.SampleRate)
	}
	if len(samples.Channels) != 2 {
		t.Fatalf("got %d channels, want 2", len(samples.Channels))
	}
	for i := range left {
		if math.Abs(float64(samples.Channels[0][i]-left[i])) > 1e-4 {
			t.Errorf("left[%d] = %v, want %v", i, samples.Channels[0][i], left[i])
		}
		if math.Abs(float64(samples.Channels[1][i]-right[i])) > 1e-4 {
			t.Errorf("right[%d] = %v, want %v", i, samples.Channels[1][i], right[i])
		}
	}
}

func TestReadRejectsTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	buf.Write([]byte{0, 0, 0, 0})
	buf.WriteString("WAVE")
	if _, err := Read(&buf); err == nil {
		t.Error("expected error on truncated WAVE stream")
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, err := ReadFile("/nonexistent/path.wav"); err == nil {
		t.Error("expected error for missing file")
	} else if !errors.Is(err, ErrIO) {
		t.Errorf("expected error wrapping ErrIO, got %v", err)
	}
}
