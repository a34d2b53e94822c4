// Package ola implements the stereo ring-buffered overlap-add framer:
// it turns fixed-size device blocks into overlapping analysis frames and
// reassembles processed frames back into output blocks.
package ola

import (
	"fmt"
	"math"
)

// ProcessFunc transforms a channels x windowSize x windowsPerBlock tensor
// of windowed analysis frames into a tensor of the same shape.
type ProcessFunc func(frames [][][]float64) [][][]float64

// Framer owns the input and output rolling buffers and performs the
// per-block shift / window / overlap-add dance described in spec.md §4.2.
type Framer struct {
	numChannels     int
	windowSize      int
	hopSize         int
	blockSize       int
	windowsPerBlock int
	numBlocksPerBuf int

	inputBuf  [][]float64 // numChannels x (blockSize*numBlocksPerBuf)
	outputBuf [][]float64

	analysisWindow  []float64
	synthesisWindow []float64

	windowed [][][]float64 // scratch: numChannels x windowSize x windowsPerBlock
}

// New constructs a Framer. numBlocksPerBuf (NBLK) must be >= 3 to leave
// margin for the fixed output emission offset (-3B:-2B), and blockSize
// must be a multiple of hopSize.
func New(numChannels, windowSize, hopSize, blockSize, numBlocksPerBuf int) (*Framer, error) {
	if blockSize%hopSize != 0 {
		return nil, fmt.Errorf("ola: blockSize %d is not a multiple of hopSize %d", blockSize, hopSize)
	}
	if numBlocksPerBuf < 3 {
		return nil, fmt.Errorf("ola: numBlocksPerBuf %d must be >= 3 (output emission reads the third-most-recent block)", numBlocksPerBuf)
	}
	windowsPerBlock := blockSize / hopSize
	bufSize := blockSize * numBlocksPerBuf
	minBufSize := windowSize + (windowsPerBlock-1)*hopSize + 2*blockSize
	if bufSize < minBufSize {
		return nil, fmt.Errorf("ola: numBlocksPerBuf*blockSize (%d) must be >= windowSize + (windowsPerBlock-1)*hopSize + 2*blockSize (%d)", bufSize, minBufSize)
	}

	f := &Framer{
		numChannels:     numChannels,
		windowSize:      windowSize,
		hopSize:         hopSize,
		blockSize:       blockSize,
		windowsPerBlock: windowsPerBlock,
		numBlocksPerBuf: numBlocksPerBuf,
		analysisWindow:  sqrtHann(windowSize),
	}
	f.synthesisWindow = f.analysisWindow

	f.inputBuf = make([][]float64, numChannels)
	f.outputBuf = make([][]float64, numChannels)
	f.windowed = make([][][]float64, numChannels)
	for c := 0; c < numChannels; c++ {
		f.inputBuf[c] = make([]float64, bufSize)
		f.outputBuf[c] = make([]float64, bufSize)
		f.windowed[c] = make([][]float64, windowSize)
		for n := 0; n < windowSize; n++ {
			f.windowed[c][n] = make([]float64, windowsPerBlock)
		}
	}
	return f, nil
}

// sqrtHann returns the periodic (DFT-even) Hann window's square root,
// which satisfies the constant-overlap-add condition at 50% hop when
// applied at both analysis and synthesis.
func sqrtHann(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		h := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
		w[i] = math.Sqrt(h)
	}
	return w
}

// WindowSize, HopSize, BlockSize, WindowsPerBlock expose the framer's
// fixed geometry.
func (f *Framer) WindowSize() int      { return f.windowSize }
func (f *Framer) HopSize() int         { return f.hopSize }
func (f *Framer) BlockSize() int       { return f.blockSize }
func (f *Framer) WindowsPerBlock() int { return f.windowsPerBlock }

// Latency returns the deterministic output delay in samples introduced
// by the fixed emission offset: input enters at the last block of the
// buffer and output is read from the third-to-last, so the delay is
// exactly 2*blockSize.
func (f *Framer) Latency() int {
	return 2 * f.blockSize
}

// ProcessBlock consumes one stereo block of blockSize samples per
// channel, applies process to the windowed analysis frames it contains,
// and returns the next blockSize samples of output per channel.
func (f *Framer) ProcessBlock(input [][]float64, process ProcessFunc) ([][]float64, error) {
	if len(input) != f.numChannels {
		return nil, fmt.Errorf("ola: input has %d channels, want %d", len(input), f.numChannels)
	}
	bufSize := len(f.inputBuf[0])
	for c, ch := range input {
		if len(ch) != f.blockSize {
			return nil, fmt.Errorf("ola: channel %d has %d samples, want blockSize %d", c, len(ch), f.blockSize)
		}
		copy(f.inputBuf[c], f.inputBuf[c][f.blockSize:])
		copy(f.inputBuf[c][bufSize-f.blockSize:], ch)

		copy(f.outputBuf[c], f.outputBuf[c][f.blockSize:])
		for i := bufSize - f.blockSize; i < bufSize; i++ {
			f.outputBuf[c][i] = 0
		}
	}

	s0 := bufSize - f.windowSize - (f.windowsPerBlock-1)*f.hopSize
	starts := make([]int, f.windowsPerBlock)
	for i := 0; i < f.windowsPerBlock; i++ {
		starts[i] = s0 + i*f.hopSize
	}

	for c := 0; c < f.numChannels; c++ {
		for i, s := range starts {
			for n := 0; n < f.windowSize; n++ {
				f.windowed[c][n][i] = f.inputBuf[c][s+n] * f.analysisWindow[n]
			}
		}
	}

	processed := process(f.windowed)

	for c := 0; c < f.numChannels; c++ {
		for i, s := range starts {
			for n := 0; n < f.windowSize; n++ {
				f.outputBuf[c][s+n] += processed[c][n][i] * f.synthesisWindow[n]
			}
		}
	}

	out := make([][]float64, f.numChannels)
	lo := bufSize - 3*f.blockSize
	hi := bufSize - 2*f.blockSize
	for c := 0; c < f.numChannels; c++ {
		out[c] = make([]float64, f.blockSize)
		copy(out[c], f.outputBuf[c][lo:hi])
	}
	return out, nil
}
