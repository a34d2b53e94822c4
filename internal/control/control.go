// Package control implements the control-plane parameter namespace
// (spec.md §4.8, C8): a mutable record the UI thread writes and an
// append-only dirty-names list the DSP thread drains between blocks.
// Grounded on the teacher's voiceprint/store.go RWMutex-guarded
// persistence pattern, adapted here for in-memory parameter exchange
// rather than disk persistence.
package control

import (
	"sync"

	"gccnmf/internal/dictionary"
	"gccnmf/internal/mask"
)

// RebuildFields names the parameters whose change forces C5/C6
// reallocation and steering recomputation before the next frame, per
// spec.md §4.8 and §3's Lifecycles.
var RebuildFields = map[string]bool{
	"MicrophoneSeparationInMetres": true,
	"NumTDOAs":                     true,
	"DictionarySize":               true,
}

// Params is the process-wide value record UI threads mutate and the
// real-time pipeline reads, matching spec.md §3's GCCNMFParams.
type Params struct {
	TargetTDOAIndex              float64
	TargetTDOAEpsilon            float64
	TargetTDOABeta               float64
	TargetTDOANoiseFloor         float64
	DictionarySize               int
	DictionaryType               dictionary.Type
	MicrophoneSeparationInMetres float64
	NumTDOAs                     int
	SeparationEnabled            bool
	AudioPlaybackGain            float64

	AudioPlayingFlag bool
	FileName         string
}

// MaskParams projects the fields mask.AtomMask needs out of Params.
func (p Params) MaskParams() mask.Params {
	mode := mask.Boxcar
	if p.TargetTDOABeta > 0 {
		mode = mask.GeneralizedGaussian
	}
	return mask.Params{
		Mode:                  mode,
		TargetTDOAIndex:       p.TargetTDOAIndex,
		TargetTDOAEpsilon:     p.TargetTDOAEpsilon,
		TargetTDOABeta:        p.TargetTDOABeta,
		TargetTDOANoiseFloor:  p.TargetTDOANoiseFloor,
	}
}

// DefaultParams returns a reasonable starting configuration.
func DefaultParams() Params {
	return Params{
		TargetTDOAIndex:              0,
		TargetTDOAEpsilon:            5,
		TargetTDOABeta:               0,
		TargetTDOANoiseFloor:         0,
		DictionarySize:               256,
		DictionaryType:               dictionary.Pretrained,
		MicrophoneSeparationInMetres: 0.1,
		NumTDOAs:                     64,
		SeparationEnabled:            true,
		AudioPlaybackGain:            1,
	}
}

// Namespace guards Params with a mutex and tracks which field names
// have been written since the last Drain, per spec.md §4.8.
type Namespace struct {
	mu      sync.Mutex
	params  Params
	dirty   map[string]bool
	rebuild bool
}

// New creates a Namespace seeded with initial.
func New(initial Params) *Namespace {
	return &Namespace{params: initial, dirty: make(map[string]bool)}
}

// Snapshot returns a copy of the current parameters, safe for callers
// that only read.
func (n *Namespace) Snapshot() Params {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.params
}

// Set applies a field mutation by name and marks it dirty. field must
// be one of Params' exported field names; the zero-value mutator
// pattern mirrors how a UI-facing API decodes untyped client writes.
func (n *Namespace) Set(mutate func(*Params), fields ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	mutate(&n.params)
	for _, f := range fields {
		n.dirty[f] = true
		if RebuildFields[f] {
			n.rebuild = true
		}
	}
}

// Drain atomically snapshots and clears the dirty list and the rebuild
// flag, returning the set of field names that changed and whether a
// rebuild is required. Called once per block from the DSP thread.
func (n *Namespace) Drain() (changed map[string]bool, rebuild bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	changed = n.dirty
	n.dirty = make(map[string]bool)
	rebuild = n.rebuild
	n.rebuild = false
	return changed, rebuild
}

// SetAudioPlaying toggles the transport flag described in spec.md
// §4.8's "Audio transport flags".
func (n *Namespace) SetAudioPlaying(playing bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.params.AudioPlayingFlag = playing
}

// SetFileName updates the file-player back-end's current source file.
func (n *Namespace) SetFileName(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.params.FileName = name
	n.dirty["FileName"] = true
}
