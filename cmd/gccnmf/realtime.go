package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gccnmf/internal/api"
	"gccnmf/internal/config"
	"gccnmf/internal/control"
	"gccnmf/internal/device"
	"gccnmf/internal/dictionary"
	"gccnmf/internal/pipeline"

	"github.com/gen2brain/malgo"
)

const realtimeSampleRate = 44100

// runRealtime drives C7 against a live device plus the control-plane
// websocket server (spec.md §5, §13). The visualization layer is an
// external collaborator regardless of --no-gui: the control-plane
// server always starts. cfg.NoGUI is not read here, so --no-gui has no
// effect on this mode, and no terminal status printer is run.
func runRealtime(cfg *config.Config) int {
	numFreq := cfg.WindowSize/2 + 1
	dict := dictionary.NewStore(dictionary.DefaultPathTemplate(cfg.DataDir))
	if err := dict.Load(numFreq, cfg.DictionarySizes, nil, 1, true, cfg.NumHUpdates); err != nil {
		log.Printf("gccnmf: loading dictionaries: %v", err)
		return 1
	}

	dictType, err := dictionary.ParseType(cfg.DictionaryType)
	if err != nil {
		log.Printf("gccnmf: %v", err)
		return 1
	}

	initial := control.DefaultParams()
	initial.DictionarySize = cfg.DictionarySize
	initial.DictionaryType = dictType
	initial.MicrophoneSeparationInMetres = cfg.MicrophoneSeparationInMetres
	initial.NumTDOAs = cfg.NumTDOAs
	ctrl := control.New(initial)

	pipelineCfg := pipeline.Config{
		SampleRate:                   realtimeSampleRate,
		WindowSize:                   cfg.WindowSize,
		HopSize:                      cfg.HopSize,
		BlockSize:                    cfg.BlockSize,
		NumBlocksPerBuf:              4,
		NumTDOAs:                     cfg.NumTDOAs,
		MicrophoneSeparationInMetres: cfg.MicrophoneSeparationInMetres,
		DictionarySize:               cfg.DictionarySize,
		NumTDOAHistory:               cfg.NumTDOAHistory,
		NumSpectrogramHistory:        cfg.NumSpectrogramHistory,
		Epsilon:                      1e-10,
	}
	pl, err := pipeline.New(pipelineCfg, dict)
	if err != nil {
		log.Printf("gccnmf: building pipeline: %v", err)
		return 1
	}

	dev, err := device.NewDuplex()
	if err != nil {
		log.Printf("gccnmf: initializing audio device: %v", err)
		return 2
	}
	defer dev.Close()

	var captureID, playbackID *malgo.DeviceID
	if cfg.DeviceNameQuery != "" {
		captureID, err = dev.FindByName(cfg.DeviceNameQuery, malgo.Capture)
		if err != nil {
			log.Printf("gccnmf: %v", err)
			return 2
		}
		playbackID, err = dev.FindByName(cfg.DeviceNameQuery, malgo.Playback)
		if err != nil {
			log.Printf("gccnmf: %v", err)
			return 2
		}
	}

	apiServer := api.NewServer(ctrl, pl, dict, dev)
	mux := http.NewServeMux()
	apiServer.RegisterHandlers(mux)
	httpServer := &http.Server{Addr: ":8765", Handler: mux}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("gccnmf: control-plane server: %v", err)
		}
	}()
	go apiServer.Start()

	handler := newBlockHandler(pl, ctrl, dict, pipelineCfg)
	if err := dev.Start(realtimeSampleRate, cfg.BlockSize, captureID, playbackID, handler); err != nil {
		log.Printf("gccnmf: starting audio device: %v", err)
		return 2
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("gccnmf: shutting down")

	dev.Stop()
	apiServer.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
	return 0
}

// newBlockHandler adapts the per-block DSP lifecycle (spec.md §4.7) to
// device.BlockHandler's float32 device-facing shape. baseCfg supplies
// the geometry fields (window/hop/block size, history depths) that
// never change once the process starts; only the three fields in
// control.RebuildFields (microphoneSeparation, numTDOAs,
// dictionarySize) are overlaid from the live namespace before each
// rebuild check.
func newBlockHandler(pl *pipeline.Pipeline, ctrl *control.Namespace, dict *dictionary.Store, baseCfg pipeline.Config) device.BlockHandler {
	nextCfg := func() pipeline.Config {
		p := ctrl.Snapshot()
		cfg := baseCfg
		cfg.NumTDOAs = p.NumTDOAs
		cfg.MicrophoneSeparationInMetres = p.MicrophoneSeparationInMetres
		cfg.DictionarySize = p.DictionarySize
		return cfg
	}

	return func(input [][]float32) [][]float32 {
		rebuildFn, rebuilding := pl.BeginRebuildIfDirty(ctrl, nextCfg())
		if rebuildFn != nil {
			go func() {
				if err := rebuildFn(); err != nil {
					log.Printf("gccnmf: rebuild: %v", err)
				}
			}()
		}
		if rebuilding {
			return silence(input)
		}

		params := ctrl.Snapshot()
		w := dict.View(params.DictionaryType, params.DictionarySize)
		if w == nil {
			pl.RecordUnderrun()
			return silence(input)
		}

		out, err := pl.ProcessBlock(toFloat64Block(input), params, w)
		if err != nil {
			pl.RecordUnderrun()
			return silence(input)
		}

		applyGain(out, params.AudioPlaybackGain)
		return toFloat32Block(out)
	}
}

func silence(like [][]float32) [][]float32 {
	out := make([][]float32, len(like))
	for c := range like {
		out[c] = make([]float32, len(like[c]))
	}
	return out
}

func toFloat64Block(in [][]float32) [][]float64 {
	out := make([][]float64, len(in))
	for c := range in {
		out[c] = make([]float64, len(in[c]))
		for i, v := range in[c] {
			out[c][i] = float64(v)
		}
	}
	return out
}

func toFloat32Block(in [][]float64) [][]float32 {
	out := make([][]float32, len(in))
	for c := range in {
		out[c] = make([]float32, len(in[c]))
		for i, v := range in[c] {
			out[c][i] = float32(v)
		}
	}
	return out
}

// applyGain scales every sample by gain in place, the single playback
// scalar spec.md's Non-goals permit in place of full AGC.
func applyGain(block [][]float64, gain float64) {
	if gain == 1 {
		return
	}
	for c := range block {
		for i := range block[c] {
			block[c][i] *= gain
		}
	}
}
