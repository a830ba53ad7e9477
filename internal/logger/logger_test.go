package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestWithDeviceFields(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger
	SetOutput(&buf)
	defer func() { Logger = prev }()

	WithDevice("rig", "left", "/dev/video1").Warn().Msg("open failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "rig", entry["component"])
	assert.Equal(t, "left", entry["side"])
	assert.Equal(t, "/dev/video1", entry["device"])
	assert.Equal(t, "open failed", entry["message"])
}
