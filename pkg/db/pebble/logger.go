package pebble

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/eigerco/nodestore/pkg/log"
)

// pebbleLogger routes pebble's own messages to the storage logger.
// Fatalf logs without exiting and panics, as pebble expects it not to return.
type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{}) {
	log.Storage.Debug().Str("backend", backendName).Msgf(format, args...)
}

func (pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Storage.Error().Str("backend", backendName).Msgf(format, args...)
}

func (pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Storage.WithLevel(zerolog.FatalLevel).Str("backend", backendName).Msgf(format, args...)
	panic(fmt.Sprintf(format, args...))
}
