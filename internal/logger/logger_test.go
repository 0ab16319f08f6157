package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerTagsService(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug", "json")

	log.Info().Str("session_id", "abc").Msg("transition")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "intervu", entry["service"])
	assert.Equal(t, "abc", entry["session_id"])
	assert.Equal(t, "transition", entry["message"])
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	_ = New(&buf, "nonsense", "json")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
