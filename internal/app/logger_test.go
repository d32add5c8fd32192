package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONCarriesServiceAndEnv(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{AppEnv: "staging", LogFormat: "json"}, &buf)

	logger.Debug("opening stock posted", "branch_id", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "DEBUG", record["level"])
	assert.Equal(t, "opening stock posted", record["msg"])
	assert.Equal(t, serviceName, record["service"])
	assert.Equal(t, "staging", record["env"])
	assert.EqualValues(t, 3, record["branch_id"])
	assert.Contains(t, record, "source")
}

func TestNewLoggerProductionDropsDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{AppEnv: "production"}, &buf)

	logger.Debug("hidden")
	assert.Zero(t, buf.Len())

	logger.Info("ledger verified")
	assert.Contains(t, buf.String(), "msg=\"ledger verified\"")
	assert.Contains(t, buf.String(), "env=production")
}

func TestTestModeEnabled(t *testing.T) {
	for raw, want := range map[string]bool{
		"1":     true,
		"true":  true,
		" 1 ":   true,
		"0":     false,
		"":      false,
		"maybe": false,
	} {
		assert.Equal(t, want, testModeEnabled(raw), "%q", raw)
	}
}
