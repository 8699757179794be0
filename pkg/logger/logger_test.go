package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutputCarriesModuleAndFields(t *testing.T) {
	log := New("engine", LoggingConfig{Level: "debug", Format: "json"})
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithField("track_id", "trk-1").
		WithFields(map[string]interface{}{"respondent_id": "resp-1"}).
		Info("track assigned")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "engine", entry["module"])
	assert.Equal(t, "trk-1", entry["track_id"])
	assert.Equal(t, "resp-1", entry["respondent_id"])
	assert.Equal(t, "track assigned", entry["msg"])
	assert.Equal(t, "info", entry["level"])
}

func TestLevelFiltering(t *testing.T) {
	log := New("engine", LoggingConfig{Level: "warn", Format: "json"})
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.Debug("hidden")
	log.Info("also hidden")
	assert.Zero(t, buf.Len())

	log.Warn("visible")
	assert.NotZero(t, buf.Len())
}

func TestBadLevelFallsBackToInfo(t *testing.T) {
	log := New("engine", LoggingConfig{Level: "nonsense", Format: "json"})
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.Debug("hidden at info level")
	assert.Zero(t, buf.Len())

	log.Info("visible")
	assert.NotZero(t, buf.Len())
}

func TestWithErrorField(t *testing.T) {
	log := New("engine", LoggingConfig{Level: "info", Format: "json"})
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithError(errors.New("storage offline")).Error("reconciliation failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "storage offline", entry["error"])
}
