package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{LogLevel: zerolog.InfoLevel, Type: JSONLogger, Output: &buf})
	t.Cleanup(func() { Init(Options{LogLevel: zerolog.Disabled, Output: &bytes.Buffer{}}) })

	Storage.Debug().Msg("dropped")
	Storage.Info().Str("column", "Block").Msg("opened")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "storage", entry["component"])
	assert.Equal(t, "Block", entry["column"])
	assert.Equal(t, "opened", entry["message"])
}

func TestInitConsole(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{LogLevel: zerolog.DebugLevel, Type: ConsoleLogger, Output: &buf})
	t.Cleanup(func() { Init(Options{LogLevel: zerolog.Disabled, Output: &bytes.Buffer{}}) })

	CLI.Debug().Msg("scan")
	assert.Contains(t, buf.String(), "| DEBUG |")
	assert.Contains(t, buf.String(), `message: "scan" |`)
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := ParseLogLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, lvl)

	_, err = ParseLogLevel("loud")
	assert.Error(t, err)
}
