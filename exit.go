package main

import (
	"os"

	"github.com/raine/microstock-tagger/config"
	"github.com/rs/zerolog/log"
)

// fatal logs the message and exits, pausing first on Windows so a
// double-clicked binary does not close before the error can be read.
func fatal(format string, a ...any) {
	log.Error().Msgf(format, a...)
	config.WaitOnWindows()
	os.Exit(1)
}
