// Command gccnmf runs the GCC-NMF source separation engine, either
// against a live audio device (real-time mode) or over a WAV file or
// directory of WAV files (batch mode), selected by whether --input is
// given; an --input path that does not exist exits with code 1. Grounded on the teacher's main.go for the
// config-then-wire-managers structure, generalized from the HTTP+gRPC
// dual-server to this domain's single websocket control plane.
package main

import (
	"log"
	"os"

	"gccnmf/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := config.ParseFlags(os.Args[1:])
	cfg, err := config.Load(flags)
	if err != nil {
		log.Printf("gccnmf: configuration error: %v", err)
		return 1
	}

	if cfg.InputPath != "" {
		if _, statErr := os.Stat(cfg.InputPath); statErr != nil {
			log.Printf("gccnmf: input path %s: %v", cfg.InputPath, statErr)
			return 1
		}
		return runBatch(cfg)
	}
	return runRealtime(cfg)
}
