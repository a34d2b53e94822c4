// Package pipeline implements the real-time per-block lifecycle
// (spec.md §4.7, C7): dirty-check/rebuild, windowed rFFT, GCC-PHAT,
// masking, iFFT, and history bookkeeping. It coordinates C2 (ola),
// C5 (gccphat), C6 (mask), C8 (control) and writes into C1
// (ringbuffer). Grounded on gccNMFProcessor.py's processFrames and the
// teacher's mel_spectrogram.go for the gonum/dsp/fourier wiring.
package pipeline

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"gccnmf/internal/control"
	"gccnmf/internal/dictionary"
	"gccnmf/internal/gccphat"
	"gccnmf/internal/mask"
	"gccnmf/internal/ola"
	"gccnmf/internal/ringbuffer"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrUnderrun is counted, not fatal: the DSP worker failed to deliver a
// block in time and the audio worker substituted silence for it
// (spec.md §7).
var ErrUnderrun = errors.New("pipeline: underrun")

// ErrRebuilding is internal bookkeeping only; it never crosses the
// package boundary as a returned error, per spec.md §7's note that
// RebuildInProgress "surfaces as silent output for the rebuilding
// block."
var ErrRebuilding = errors.New("pipeline: rebuilding")

// Config is the fixed geometry the pipeline is built for. Changing any
// field that also appears in control.RebuildFields requires a Rebuild.
type Config struct {
	SampleRate                   int
	WindowSize                   int
	HopSize                      int
	BlockSize                    int
	NumBlocksPerBuf              int
	NumTDOAs                     int
	MicrophoneSeparationInMetres float64
	DictionarySize               int
	NumTDOAHistory               int
	NumSpectrogramHistory        int
	Epsilon                      float64
}

// Histories bundles the C1 ring buffers the UI thread reads, per
// spec.md §3's History Buffers and §4.7 step 5.
type Histories struct {
	InputSpectrogram  *ringbuffer.Buffer // F x numSpectrogramHistory, negated gamma-1/3 magnitude
	OutputSpectrogram *ringbuffer.Buffer // F x numSpectrogramHistory
	GCCPHAT           *ringbuffer.Buffer // D x numTDOAHistory
	CoefficientMask   *ringbuffer.Buffer // K x numTDOAHistory (1 - m of the block's last frame; one column per block, not one per frame)
}

// Pipeline owns one real-time processing session: the OLA framer, the
// steering matrix, the active dictionary, and the history buffers.
type Pipeline struct {
	cfg   Config
	fft   *fourier.FFT
	framer *ola.Framer
	core  *gccphat.Core
	dict  *dictionary.Store

	hist Histories

	mu         sync.Mutex
	rebuilding bool
	underruns  int

	// telemetry: supplemented feature, grounded on
	// realtime/audioProcessor.py's periodic min/max/mean processing-time
	// report.
	telemetry telemetryWindow
}

type telemetryWindow struct {
	mu        sync.Mutex
	durations []time.Duration
	lastFlush time.Time
}

// New builds a Pipeline. dict must already have the Pretrained and
// Random dictionaries loaded for cfg.DictionarySize.
func New(cfg Config, dict *dictionary.Store) (*Pipeline, error) {
	numFreq := cfg.WindowSize/2 + 1
	framer, err := ola.New(2, cfg.WindowSize, cfg.HopSize, cfg.BlockSize, cfg.NumBlocksPerBuf)
	if err != nil {
		return nil, fmt.Errorf("pipeline: building framer: %w", err)
	}
	core := gccphat.New(gccphat.Config{
		NumFrequencies:             numFreq,
		SampleRate:                 cfg.SampleRate,
		NumTDOAs:                   cfg.NumTDOAs,
		MicrophoneSeparationMetres: cfg.MicrophoneSeparationInMetres,
	})

	p := &Pipeline{
		cfg:    cfg,
		fft:    fourier.NewFFT(cfg.WindowSize),
		framer: framer,
		core:   core,
		dict:   dict,
		hist: Histories{
			InputSpectrogram:  ringbuffer.New(numFreq, cfg.NumSpectrogramHistory, 0),
			OutputSpectrogram: ringbuffer.New(numFreq, cfg.NumSpectrogramHistory, 0),
			GCCPHAT:           ringbuffer.New(cfg.NumTDOAs, cfg.NumTDOAHistory, 0),
			CoefficientMask:   ringbuffer.New(cfg.DictionarySize, cfg.NumTDOAHistory, 1),
		},
	}
	p.telemetry.lastFlush = time.Time{}
	return p, nil
}

// Histories exposes the UI-facing ring buffers.
func (p *Pipeline) Histories() *Histories { return &p.hist }

// Underruns returns the cumulative underrun count.
func (p *Pipeline) Underruns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.underruns
}

// Rebuild recomputes the steering matrix for a new configuration, per
// spec.md §3's Lifecycles ("fires when any field in
// {microphoneSeparation, numTDOAs, dictionarySize} is dirty"). It holds
// no dictionary view: callers pass one to ProcessBlock on every block.
// Called from a background goroutine while the DSP substitutes silence.
func (p *Pipeline) Rebuild(cfg Config) error {
	numFreq := cfg.WindowSize/2 + 1
	core := gccphat.New(gccphat.Config{
		NumFrequencies:             numFreq,
		SampleRate:                 cfg.SampleRate,
		NumTDOAs:                   cfg.NumTDOAs,
		MicrophoneSeparationMetres: cfg.MicrophoneSeparationInMetres,
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.core = core
	p.rebuilding = false
	return nil
}

// BeginRebuildIfDirty drains ns and, if a rebuild-triggering field
// changed and one isn't already running, returns a ready-to-run closure
// the caller should invoke on a worker goroutine. While a rebuild is in
// flight the caller should substitute a silent block for this one,
// per spec.md §4.7 step 1.
func (p *Pipeline) BeginRebuildIfDirty(ns *control.Namespace, nextCfg Config) (rebuildFn func() error, rebuilding bool) {
	_, needsRebuild := ns.Drain()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rebuilding {
		return nil, true
	}
	if !needsRebuild {
		return nil, false
	}
	p.rebuilding = true
	return func() error { return p.Rebuild(nextCfg) }, true
}

// ProcessBlock runs one full block through the pipeline: window+rFFT,
// GCC-PHAT, masking, iFFT, and history updates (spec.md §4.7 steps 2-5).
// When params.SeparationEnabled is false, M ≡ 1 (step 3's "else copy
// input spectrogram").
func (p *Pipeline) ProcessBlock(input [][]float64, params control.Params, w *dictionary.WView) ([][]float64, error) {
	start := time.Now()
	defer p.recordProcessingTime(start)

	p.mu.Lock()
	core := p.core
	dictW := w.Dense
	colSumW := w.ColumnSums
	epsilon := p.cfg.Epsilon
	p.mu.Unlock()

	var lastInSpec, lastOutSpec, lastCoeffMask []float64
	var lastG []float64

	process := func(frames [][][]float64) [][][]float64 {
		numChannels := len(frames)
		windowSize := len(frames[0])
		windowsPerBlock := len(frames[0][0])

		out := make([][][]float64, numChannels)
		for c := range out {
			out[c] = make([][]float64, windowSize)
			for n := range out[c] {
				out[c][n] = make([]float64, windowsPerBlock)
			}
		}

		for t := 0; t < windowsPerBlock; t++ {
			spectra := make([][]complex128, numChannels)
			for c := 0; c < numChannels; c++ {
				frame := make([]float64, windowSize)
				for n := 0; n < windowSize; n++ {
					frame[n] = frames[c][n][t]
				}
				spectra[c] = p.fft.Coefficients(nil, frame)
			}
			lastInSpec = logMagnitudeMean(spectra)

			var outSpectra [][]complex128
			if params.SeparationEnabled && numChannels == 2 {
				v := gccphat.Coherence(spectra[0], spectra[1])
				g := core.AngularSpectrum(v)
				proj := gccphat.AtomProjections(g, dictW)
				a := gccphat.AtomTDOAAssignment(proj)
				m := mask.AtomMask(a, params.MaskParams())
				tfMask := mask.TimeFrequencyMask(dictW, m, colSumW, epsilon)

				outSpectra = make([][]complex128, numChannels)
				for c := 0; c < numChannels; c++ {
					outSpectra[c] = mask.ApplyMask(spectra[c], tfMask)
				}

				lastG = gccphat.AngularSpectrumMean(g)
				lastCoeffMask = oneMinus(m)
				lastOutSpec = logMagnitudeMean(outSpectra)
			} else {
				outSpectra = spectra
				lastOutSpec = logMagnitudeMean(spectra)
			}

			for c := 0; c < numChannels; c++ {
				real := p.fft.Sequence(nil, outSpectra[c])
				for n := 0; n < windowSize; n++ {
					out[c][n][t] = real[n] / float64(windowSize)
				}
			}
		}
		return out
	}

	out, err := p.framer.ProcessBlock(input, process)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p.updateHistories(lastInSpec, lastOutSpec, lastG, lastCoeffMask)
	return out, nil
}

func oneMinus(m []float64) []float64 {
	out := make([]float64, len(m))
	for i, v := range m {
		out[i] = 1 - v
	}
	return out
}

// logMagnitudeMean computes the mean across channels of the negated
// gamma-1/3 magnitude, -|X|^(1/3) (no logarithm is taken), per spec.md
// §4.7 step 5's history update
// ("mean across channels, negated, gamma 1/3").
func logMagnitudeMean(spectra [][]complex128) []float64 {
	numChannels := len(spectra)
	numFreq := len(spectra[0])
	out := make([]float64, numFreq)
	for f := 0; f < numFreq; f++ {
		var sum float64
		for c := 0; c < numChannels; c++ {
			mag := abs(spectra[c][f])
			sum += -math.Pow(mag, 1.0/3.0)
		}
		out[f] = sum / float64(numChannels)
	}
	return out
}

func abs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

func (p *Pipeline) updateHistories(inSpec, outSpec, g, coeffMask []float64) {
	if inSpec != nil {
		p.hist.InputSpectrogram.Set([][]float64{inSpec})
	}
	if outSpec != nil {
		p.hist.OutputSpectrogram.Set([][]float64{outSpec})
	}
	if g != nil {
		col := make([]float64, len(g))
		copy(col, g)
		p.hist.GCCPHAT.Set([][]float64{col})
	}
	if coeffMask != nil {
		p.hist.CoefficientMask.Set([][]float64{coeffMask})
	}
}

// RecordUnderrun increments the underrun counter and logs once, per
// spec.md §7's policy ("one log line and a silent frame").
func (p *Pipeline) RecordUnderrun() {
	p.mu.Lock()
	p.underruns++
	n := p.underruns
	p.mu.Unlock()
	log.Printf("pipeline: underrun #%d, substituting silence: %v", n, ErrUnderrun)
}

func (p *Pipeline) recordProcessingTime(start time.Time) {
	d := time.Since(start)
	p.telemetry.mu.Lock()
	defer p.telemetry.mu.Unlock()
	p.telemetry.durations = append(p.telemetry.durations, d)
	if p.telemetry.lastFlush.IsZero() {
		p.telemetry.lastFlush = time.Now()
		return
	}
	if time.Since(p.telemetry.lastFlush) < 2*time.Second {
		return
	}
	var minD, maxD, sum time.Duration
	minD = p.telemetry.durations[0]
	for _, v := range p.telemetry.durations {
		if v < minD {
			minD = v
		}
		if v > maxD {
			maxD = v
		}
		sum += v
	}
	mean := sum / time.Duration(len(p.telemetry.durations))
	log.Printf("pipeline: block processing time min=%v max=%v mean=%v (n=%d)", minD, maxD, mean, len(p.telemetry.durations))
	p.telemetry.durations = p.telemetry.durations[:0]
	p.telemetry.lastFlush = time.Now()
}
