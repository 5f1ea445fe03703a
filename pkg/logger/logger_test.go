package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		require.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestComponentLoggerAddsField(t *testing.T) {
	var buf bytes.Buffer
	log := Component(newWithWriter(&buf, "debug", false, true), "extractor")

	log.Info().Str("batch_id", "b-1").Msg("Extraction started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "extractor", entry["component"])
	require.Equal(t, "scan-service", entry["service"])
	require.Equal(t, "b-1", entry["batch_id"])
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "warn", false, true)

	log.Info().Msg("hidden")
	require.Zero(t, buf.Len())
}
