// Command gccnmf-dictgen pretrains the NMF dictionaries the real-time
// engine loads at startup (spec.md §4.3, §6's "<data>/pretrainedW"
// artifacts). The real-time entry point calls dictionary.Store.Load
// without a training spectrogram, so it fails at startup when an
// artifact is missing; this command writes those artifacts. Grounded on gccNMFFunctions.py's performKLNMF training driver and on
// the teacher's cmd/testrecord-style standalone utilities; reuses
// internal/nmf's KLNMF and internal/dictionary's ordering and
// persistence exactly as the real-time loader does.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/cmplx"
	"os"
	"strconv"
	"strings"

	"gccnmf/internal/dictionary"
	"gccnmf/internal/nmf"
	"gccnmf/internal/wavio"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

func main() {
	input := flag.String("input", "", "WAV file to train the dictionary from")
	sizesFlag := flag.String("sizes", "16,32,64,128,256", "comma-separated dictionary sizes to train")
	windowSize := flag.Int("window", 1024, "STFT window size")
	hopSize := flag.Int("hop", 512, "STFT hop size")
	iterations := flag.Int("iterations", 100, "number of multiplicative-update iterations")
	seed := flag.Uint64("seed", 1, "RNG seed")
	dataDir := flag.String("data-dir", "", "output data directory (defaults to $GCCNMF_DATA_DIR or ~/.gccnmf)")
	ordered := flag.Bool("ordered", true, "order dictionary atoms by ascending spectral centroid")
	flag.Parse()

	if *input == "" {
		log.Fatal("gccnmf-dictgen: --input is required")
	}
	sizes, err := parseSizes(*sizesFlag)
	if err != nil {
		log.Fatalf("gccnmf-dictgen: %v", err)
	}
	dir := *dataDir
	if dir == "" {
		dir = defaultDataDir()
	}

	samples, err := wavio.ReadFile(*input)
	if err != nil {
		log.Fatalf("gccnmf-dictgen: %v", err)
	}

	v := magnitudeSpectrogram(samples, *windowSize, *hopSize)
	numFreq, numFrames := v.Dims()
	log.Printf("gccnmf-dictgen: training spectrogram is %d frequencies x %d frames", numFreq, numFrames)

	pathTemplate := dictionary.DefaultPathTemplate(dir)
	for _, k := range sizes {
		log.Printf("gccnmf-dictgen: training size %d (%d iterations)...", k, *iterations)
		w, h, err := nmf.KLNMF(v, k, *iterations, 0, 1e-16, *seed+uint64(k))
		if err != nil {
			log.Fatalf("gccnmf-dictgen: training size %d: %v", k, err)
		}
		log.Printf("gccnmf-dictgen: size %d final KL divergence %.4f", k, nmf.KLDivergence(v, w, h))

		if *ordered {
			w = dictionary.OrderBySpectralCentroid(w)
		}
		path := fmt.Sprintf(pathTemplate, k)
		if err := dictionary.SaveTensor(path, w); err != nil {
			log.Fatalf("gccnmf-dictgen: saving %s: %v", path, err)
		}
		log.Printf("gccnmf-dictgen: wrote %s", path)
	}
}

func parseSizes(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	sizes := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid dictionary size %q: %w", p, err)
		}
		sizes = append(sizes, n)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no dictionary sizes given")
	}
	return sizes, nil
}

// magnitudeSpectrogram mixes every channel down to mono and computes a
// non-overlap-normalized |STFT|, the same centered=false framing
// batch.go's stft uses for offline analysis (spec.md §4.9 step 2).
func magnitudeSpectrogram(samples *wavio.Samples, windowSize, hopSize int) *mat.Dense {
	mono := mixToMono(samples.Channels)
	window := hannWindow(windowSize)
	fft := fourier.NewFFT(windowSize)

	numFreq := windowSize/2 + 1
	numFrames := 0
	if len(mono) >= windowSize {
		numFrames = (len(mono)-windowSize)/hopSize + 1
	}

	v := mat.NewDense(numFreq, numFrames, nil)
	frame := make([]float64, windowSize)
	for t := 0; t < numFrames; t++ {
		start := t * hopSize
		for n := 0; n < windowSize; n++ {
			frame[n] = mono[start+n] * window[n]
		}
		coeffs := fft.Coefficients(nil, frame)
		for f := 0; f < numFreq; f++ {
			v.Set(f, t, cmplx.Abs(coeffs[f]))
		}
	}
	return v
}

func mixToMono(channels [][]float32) []float64 {
	if len(channels) == 0 {
		return nil
	}
	n := len(channels[0])
	out := make([]float64, n)
	for c := range channels {
		for i, s := range channels[c] {
			out[i] += float64(s) / float64(len(channels))
		}
	}
	return out
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}

func defaultDataDir() string {
	if dir := os.Getenv("GCCNMF_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gccnmf"
	}
	return home + "/.gccnmf"
}
