// Package batch implements the offline file-in/file-out variant of the
// engine (spec.md §4.9, C9): full-file STFT, joint stereo NMF
// factorization, peak-picking localization, and per-target
// reconstruction. Grounded on gccNMFFunctions.py (performKLNMF,
// getAngularSpectrogram, estimateTargetTDOAIndexesFromAngularSpectrum,
// getTargetTDOAGCCNMFs, getTargetCoefficientMasks,
// getTargetSpectrogramEstimates, getTargetSignalEstimates).
package batch

import (
	"fmt"
	"math"
	"sort"

	"gccnmf/internal/gccphat"
	"gccnmf/internal/kmeans"
	"gccnmf/internal/nmf"
	"gccnmf/internal/wavio"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// Config parameterizes one batch run, matching spec.md §6's typed INI
// options and §4.9's defaults.
type Config struct {
	WindowSize                   int
	HopSize                      int
	MicrophoneSeparationInMetres float64
	NumTDOAs                     int
	DictionarySize               int // K, typical 128
	NumIterations                int // I, typical 100
	SparsityAlpha                float64
	NumTargets                   int // 0 means auto-detect via 2-means
	Seed                         uint64
	Epsilon                      float64
}

// Result holds one separated target's stereo signal estimate and the
// TDOA index it was assigned to.
type Result struct {
	TDOAIndex int
	Left      []float32
	Right     []float32
}

// hannWindow returns the periodic Hann window, the non-square-rooted
// variant the original batch STFT uses (librosaSTFT.stft's default
// window_func=hanning).
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}

// stft computes a centered=false short-time Fourier transform: frames
// start at 0, step by hopSize, and any trailing samples that don't fill
// a full window are dropped, per spec.md §4.9 step 2.
func stft(samples []float64, windowSize, hopSize int, window []float64, fft *fourier.FFT) [][]complex128 {
	numFrames := 0
	if len(samples) >= windowSize {
		numFrames = (len(samples)-windowSize)/hopSize + 1
	}
	out := make([][]complex128, numFrames)
	frame := make([]float64, windowSize)
	for t := 0; t < numFrames; t++ {
		start := t * hopSize
		for n := 0; n < windowSize; n++ {
			frame[n] = samples[start+n] * window[n]
		}
		out[t] = append([]complex128(nil), fft.Coefficients(nil, frame)...)
	}
	return out
}

// istft reconstructs a real signal from a windowed spectrogram by
// overlap-add, normalizing by the window's constant-overlap-add power
// so that re-analysis of the reconstructed signal recovers the
// original magnitude, per spec.md §4.9 step 10's "iSTFT".
func istft(spectrogram [][]complex128, windowSize, hopSize int, window []float64, fft *fourier.FFT) []float64 {
	numFrames := len(spectrogram)
	if numFrames == 0 {
		return nil
	}
	length := (numFrames-1)*hopSize + windowSize
	out := make([]float64, length)
	norm := make([]float64, length)

	for t := 0; t < numFrames; t++ {
		frame := fft.Sequence(nil, spectrogram[t])
		start := t * hopSize
		for n := 0; n < windowSize; n++ {
			out[start+n] += frame[n] / float64(windowSize) * window[n]
			norm[start+n] += window[n] * window[n]
		}
	}
	for i := range out {
		if norm[i] > 1e-10 {
			out[i] /= norm[i]
		}
	}
	return out
}

// Run executes the full offline pipeline against a stereo WAV file and
// returns one Result per detected target.
func Run(samples *wavio.Samples, cfg Config) ([]Result, error) {
	if len(samples.Channels) != 2 {
		return nil, fmt.Errorf("batch: expected stereo input, got %d channels", len(samples.Channels))
	}
	window := hannWindow(cfg.WindowSize)
	fft := fourier.NewFFT(cfg.WindowSize)

	ch0 := toFloat64(samples.Channels[0])
	ch1 := toFloat64(samples.Channels[1])
	x0 := stft(ch0, cfg.WindowSize, cfg.HopSize, window, fft)
	x1 := stft(ch1, cfg.WindowSize, cfg.HopSize, window, fft)
	numTime := minLen(len(x0), len(x1))
	x0, x1 = x0[:numTime], x1[:numTime]
	if numTime == 0 {
		return nil, fmt.Errorf("batch: input too short for window size %d", cfg.WindowSize)
	}
	numFreq := cfg.WindowSize/2 + 1

	// V = |X0| ‖ |X1|, concatenated along time (spec.md §4.9 step 3).
	v := mat.NewDense(numFreq, 2*numTime, nil)
	for t := 0; t < numTime; t++ {
		for f := 0; f < numFreq; f++ {
			v.Set(f, t, cmplxAbs(x0[t][f]))
			v.Set(f, numTime+t, cmplxAbs(x1[t][f]))
		}
	}

	w, h, err := nmf.KLNMF(v, cfg.DictionarySize, cfg.NumIterations, cfg.SparsityAlpha, cfg.Epsilon, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("batch: factorizing dictionary: %w", err)
	}

	h0 := h.Slice(0, cfg.DictionarySize, 0, numTime).(*mat.Dense)
	h1 := h.Slice(0, cfg.DictionarySize, numTime, 2*numTime).(*mat.Dense)

	core := gccphat.New(gccphat.Config{
		NumFrequencies:             numFreq,
		SampleRate:                 samples.SampleRate,
		NumTDOAs:                   cfg.NumTDOAs,
		MicrophoneSeparationMetres: cfg.MicrophoneSeparationInMetres,
	})

	coherence := make([][]complex128, numTime)
	meanAngular := make([]float64, cfg.NumTDOAs)
	for t := 0; t < numTime; t++ {
		coherence[t] = gccphat.Coherence(x0[t], x1[t])
		g := core.AngularSpectrum(coherence[t])
		for d := 0; d < cfg.NumTDOAs; d++ {
			var sum float64
			for f := 0; f < numFreq; f++ {
				sum += g[f][d]
			}
			meanAngular[d] += sum
		}
	}
	for d := range meanAngular {
		meanAngular[d] /= float64(numTime)
	}

	targetTDOAIndexes := selectTargetTDOAs(meanAngular, cfg.NumTargets)
	if len(targetTDOAIndexes) == 0 {
		return nil, fmt.Errorf("batch: localization found no target TDOAs")
	}

	wDense := denseToSlice(w)
	gccNMFs := targetTDOAGCCNMFs(coherence, core, wDense, targetTDOAIndexes, numFreq, cfg.DictionarySize, numTime)
	coeffMasks := targetCoefficientMasks(gccNMFs, len(targetTDOAIndexes), cfg.DictionarySize, numTime)

	results := make([]Result, len(targetTDOAIndexes))
	for i, tdoaIdx := range targetTDOAIndexes {
		specLeft := targetSpectrogramEstimate(wDense, h0, coeffMasks[i], x0, numFreq, numTime)
		specRight := targetSpectrogramEstimate(wDense, h1, coeffMasks[i], x1, numFreq, numTime)
		left := istft(specLeft, cfg.WindowSize, cfg.HopSize, window, fft)
		right := istft(specRight, cfg.WindowSize, cfg.HopSize, window, fft)
		results[i] = Result{TDOAIndex: tdoaIdx, Left: toFloat32(left), Right: toFloat32(right)}
	}
	return results, nil
}

// selectTargetTDOAs implements spec.md §4.9 step 7: local maxima of the
// mean angular spectrum, then either the top numTargets by amplitude or
// the higher-centered cluster from 2-means over peak amplitudes,
// ordered left to right (ascending TDOA index).
func selectTargetTDOAs(angular []float64, numTargets int) []int {
	peaks := localMaxima(angular)
	if len(peaks) == 0 {
		return nil
	}

	var selected []int
	if numTargets > 0 {
		sort.Slice(peaks, func(i, j int) bool { return angular[peaks[i]] > angular[peaks[j]] })
		n := numTargets
		if n > len(peaks) {
			n = len(peaks)
		}
		selected = append(selected, peaks[:n]...)
	} else {
		amplitudes := make([]float64, len(peaks))
		for i, p := range peaks {
			amplitudes[i] = angular[p]
		}
		labels, centers := kmeans.TwoMeans(amplitudes)
		sourceCluster := 0
		if centers[1] > centers[0] {
			sourceCluster = 1
		}
		for i, p := range peaks {
			if labels[i] == sourceCluster {
				selected = append(selected, p)
			}
		}
	}

	sort.Ints(selected)
	return selected
}

// localMaxima finds strict local maxima (argrelmax's default order=1
// behavior): x[i] > x[i-1] and x[i] > x[i+1]. Endpoints are never
// maxima, matching scipy's argrelmax.
func localMaxima(x []float64) []int {
	var idx []int
	for i := 1; i < len(x)-1; i++ {
		if x[i] > x[i-1] && x[i] > x[i+1] {
			idx = append(idx, i)
		}
	}
	return idx
}

// targetTDOAGCCNMFs computes, for each selected TDOA, the per-atom GCC
// across all frames: Re(Wᵀ · (coherence ⊙ E[:,d*])), per spec.md §4.9
// step 8.
func targetTDOAGCCNMFs(coherence [][]complex128, core *gccphat.Core, w [][]float64, targetTDOAIndexes []int, numFreq, numAtoms, numTime int) [][][]float64 {
	numTargets := len(targetTDOAIndexes)
	out := make([][][]float64, numTargets)
	for i, tdoaIdx := range targetTDOAIndexes {
		steering := core.SteeringColumn(tdoaIdx)
		out[i] = make([][]float64, numAtoms)
		for a := range out[i] {
			out[i][a] = make([]float64, numTime)
		}
		for t := 0; t < numTime; t++ {
			for f := 0; f < numFreq; f++ {
				re := real(coherence[t][f] * steering[f])
				if re == 0 {
					continue
				}
				for a := 0; a < numAtoms; a++ {
					out[i][a][t] += w[f][a] * re
				}
			}
		}
	}
	return out
}

// targetCoefficientMasks hard-assigns each (atom, frame) to the target
// with the maximum GCC score, per spec.md §4.9 step 9.
func targetCoefficientMasks(gccNMFs [][][]float64, numTargets, numAtoms, numTime int) [][][]float64 {
	masks := make([][][]float64, numTargets)
	for i := range masks {
		masks[i] = make([][]float64, numAtoms)
		for a := range masks[i] {
			masks[i][a] = make([]float64, numTime)
		}
	}
	for a := 0; a < numAtoms; a++ {
		for t := 0; t < numTime; t++ {
			best := 0
			bestVal := gccNMFs[0][a][t]
			for i := 1; i < numTargets; i++ {
				if v := gccNMFs[i][a][t]; v > bestVal {
					bestVal = v
					best = i
				}
			}
			masks[best][a][t] = 1
		}
	}
	return masks
}

// targetSpectrogramEstimate reconstructs |X̂| = W·(mask⊙H), recombines
// with the mixture phase, per spec.md §4.9 step 10.
func targetSpectrogramEstimate(w [][]float64, h *mat.Dense, coeffMask [][]float64, mixture [][]complex128, numFreq, numTime int) [][]complex128 {
	numAtoms, _ := h.Dims()
	out := make([][]complex128, numTime)
	for t := 0; t < numTime; t++ {
		out[t] = make([]complex128, numFreq)
		for f := 0; f < numFreq; f++ {
			var mag float64
			for a := 0; a < numAtoms; a++ {
				mag += w[f][a] * h.At(a, t) * coeffMask[a][t]
			}
			phase := cmplxAngle(mixture[t][f])
			out[t][f] = complex(mag*math.Cos(phase), mag*math.Sin(phase))
		}
	}
	return out
}

func cmplxAbs(c complex128) float64   { return math.Hypot(real(c), imag(c)) }
func cmplxAngle(c complex128) float64 { return math.Atan2(imag(c), real(c)) }

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func minLen(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func denseToSlice(m *mat.Dense) [][]float64 {
	rows, cols := m.Dims()
	out := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		out[r] = make([]float64, cols)
		for c := 0; c < cols; c++ {
			out[r][c] = m.At(r, c)
		}
	}
	return out
}
