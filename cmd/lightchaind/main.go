// Grounded on main.go/cli.go: read environment/flags, call StartNode. CLI
// flag parsing is out of scope here; this binary only reads environment
// variables via the config package.
package main

import (
	"os"

	"github.com/rs/zerolog"

	"lightchain/config"
	"lightchain/node"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	orchestrator, err := node.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start node")
	}
	defer orchestrator.Close()

	if err := orchestrator.Run(); err != nil {
		log.Fatal().Err(err).Msg("node exited")
	}
}
