package pipeline

import (
	"math"
	"testing"

	"gccnmf/internal/control"
	"gccnmf/internal/dictionary"

	"gonum.org/v1/gonum/mat"
)

func testConfig() Config {
	return Config{
		SampleRate:                   16000,
		WindowSize:                   1024,
		HopSize:                      512,
		BlockSize:                    512,
		NumBlocksPerBuf:              8,
		NumTDOAs:                     16,
		MicrophoneSeparationInMetres: 0.1,
		DictionarySize:               4,
		NumTDOAHistory:               32,
		NumSpectrogramHistory:        32,
		Epsilon:                      1e-10,
	}
}

func testDictStore(t *testing.T, cfg Config) *dictionary.Store {
	t.Helper()
	dir := t.TempDir()
	s := dictionary.NewStore(dir + "/W_%d.bin")
	numFreq := cfg.WindowSize/2 + 1
	trainV := mat.NewDense(numFreq, 20, nil)
	x := 1.0
	trainV.Apply(func(_, _ int, _ float64) float64 {
		x = math.Mod(x*1.618, 1) + 0.01
		return x
	}, trainV)
	if err := s.Load(numFreq, []int{cfg.DictionarySize}, trainV, 1, false, 10); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestPassthroughSilenceWithSeparationDisabled(t *testing.T) {
	cfg := testConfig()
	store := testDictStore(t, cfg)
	p, err := New(cfg, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	view := store.View(dictionary.Pretrained, cfg.DictionarySize)
	params := control.DefaultParams()
	params.SeparationEnabled = false

	silence := [][]float64{make([]float64, cfg.BlockSize), make([]float64, cfg.BlockSize)}
	for i := 0; i < 10; i++ {
		out, err := p.ProcessBlock(silence, params, view)
		if err != nil {
			t.Fatalf("ProcessBlock: %v", err)
		}
		for c := range out {
			for _, v := range out[c] {
				if math.Abs(v) > 1e-4 {
					t.Fatalf("block %d channel %d: expected near-silence, got %v", i, c, v)
				}
			}
		}
	}
}

func TestProcessBlockUpdatesHistories(t *testing.T) {
	cfg := testConfig()
	store := testDictStore(t, cfg)
	p, err := New(cfg, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	view := store.View(dictionary.Pretrained, cfg.DictionarySize)
	params := control.DefaultParams()

	block := [][]float64{make([]float64, cfg.BlockSize), make([]float64, cfg.BlockSize)}
	for i := range block[0] {
		block[0][i] = math.Sin(float64(i) * 0.1)
		block[1][i] = math.Sin(float64(i)*0.1 + 0.2)
	}
	if _, err := p.ProcessBlock(block, params, view); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	gccCol := p.Histories().GCCPHAT.Get()
	if len(gccCol) != cfg.NumTDOAs {
		t.Errorf("GCCPHAT history width = %d, want %d", len(gccCol), cfg.NumTDOAs)
	}

	numFreq := cfg.WindowSize/2 + 1
	inSpecCol := p.Histories().InputSpectrogram.Get()
	if len(inSpecCol) != numFreq {
		t.Errorf("InputSpectrogram history width = %d, want %d", len(inSpecCol), numFreq)
	}
	allZero := true
	for _, v := range inSpecCol {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Error("InputSpectrogram history was never updated, still all zero")
	}
}

func TestBeginRebuildIfDirtyRunsOnce(t *testing.T) {
	cfg := testConfig()
	store := testDictStore(t, cfg)
	p, err := New(cfg, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ns := control.New(control.DefaultParams())
	ns.Set(func(pm *control.Params) { pm.NumTDOAs = 32 }, "NumTDOAs")

	nextCfg := cfg
	nextCfg.NumTDOAs = 32
	fn, rebuilding := p.BeginRebuildIfDirty(ns, nextCfg)
	if !rebuilding || fn == nil {
		t.Fatal("expected a rebuild to be scheduled")
	}
	if err := fn(); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	// A second check before any new dirty field should see no rebuild.
	fn2, rebuilding2 := p.BeginRebuildIfDirty(ns, nextCfg)
	if rebuilding2 || fn2 != nil {
		t.Error("expected no rebuild once the previous one completed and nothing is dirty")
	}
}

func TestRecordUnderrunIncrementsCounter(t *testing.T) {
	cfg := testConfig()
	store := testDictStore(t, cfg)
	p, err := New(cfg, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.RecordUnderrun()
	p.RecordUnderrun()
	if got := p.Underruns(); got != 2 {
		t.Errorf("Underruns() = %d, want 2", got)
	}
}
