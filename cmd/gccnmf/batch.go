package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gccnmf/internal/batch"
	"gccnmf/internal/config"
	"gccnmf/internal/wavio"

	"github.com/google/uuid"
)

// runBatch drives C9 to completion over every WAV file named by
// cfg.InputPath, writing each separated target next to the source file
// (spec.md §4.9, §6's CLI contract).
func runBatch(cfg *config.Config) int {
	files, err := batchInputFiles(cfg.InputPath)
	if err != nil {
		log.Printf("gccnmf: listing input: %v", err)
		return 1
	}
	if len(files) == 0 {
		log.Printf("gccnmf: no .wav files found under %s", cfg.InputPath)
		return 1
	}

	batchCfg := batch.Config{
		WindowSize:                   cfg.WindowSize,
		HopSize:                      cfg.HopSize,
		MicrophoneSeparationInMetres: cfg.MicrophoneSeparationInMetres,
		NumTDOAs:                     cfg.NumTDOAs,
		DictionarySize:               cfg.DictionarySize,
		NumIterations:                cfg.NumHUpdates,
		SparsityAlpha:                0,
		NumTargets:                   0, // 0 selects the auto-clustered target count (spec.md §4.9 step 7)
		Seed:                         1,
		Epsilon:                      1e-10,
	}

	for _, path := range files {
		if err := processBatchFile(path, batchCfg); err != nil {
			log.Printf("gccnmf: processing %s: %v", path, err)
			return 1
		}
	}
	return 0
}

func batchInputFiles(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{input}, nil
	}
	matches, err := filepath.Glob(filepath.Join(input, "*.wav"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func processBatchFile(path string, cfg batch.Config) error {
	samples, err := wavio.ReadFile(path)
	if err != nil {
		return err
	}

	results, err := batch.Run(samples, cfg)
	if err != nil {
		return fmt.Errorf("gccnmf: batch run: %w", err)
	}

	runID := uuid.NewString()[:8]
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dir := filepath.Dir(path)

	for i, r := range results {
		outPath := filepath.Join(dir, fmt.Sprintf("%s_target%d_%s.wav", base, i, runID))
		w, err := wavio.NewWriter(outPath, samples.SampleRate, 2)
		if err != nil {
			return err
		}
		if err := w.WriteChannels([][]float32{r.Left, r.Right}); err != nil {
			w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		log.Printf("gccnmf: wrote %s (TDOA index %d)", outPath, r.TDOAIndex)
	}
	return nil
}
