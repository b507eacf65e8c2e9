package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiretamper/wiretamper/config"
)

func TestLoggerWithParams(t *testing.T) {
	l := NewLogger(config.LogConfig{Format: "json", Level: "debug"})
	buf := new(bytes.Buffer)
	l.SetOutput(buf)

	l.With(LogParams{"kind": "ClientHello", "action": 0}).Debug("prepared message")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "prepared message", entry["msg"])
	assert.Equal(t, "ClientHello", entry["kind"])
	assert.Equal(t, "debug", entry["level"])
}

func TestLoggerLevelFilters(t *testing.T) {
	l := NewLogger(config.LogConfig{Format: "json", Level: "warn"})
	buf := new(bytes.Buffer)
	l.SetOutput(buf)

	l.Info("hidden")
	assert.Zero(t, buf.Len())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")

	// unknown levels are ignored
	l.SetLevel("chatty")
	l.Info("still hidden")
	assert.NotContains(t, buf.String(), "still hidden")
}

func TestNopLogger(t *testing.T) {
	l := NewNop()
	l.With(LogParams{"a": 1}).Error("nothing")
	l.Destroy()
}

func TestLoggerWithError(t *testing.T) {
	l := NewLogger(config.LogConfig{Format: "json"})
	buf := new(bytes.Buffer)
	l.SetOutput(buf)

	assert.Same(t, l, l.WithError(nil))
	l.WithError(assert.AnError).Error("failed")
	assert.Contains(t, buf.String(), assert.AnError.Error())
}
