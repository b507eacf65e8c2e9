package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	c, err := ParseConfigBytes([]byte(`{"protocol": "smtp", "target": "mail:25"}`))
	require.NoError(t, err)

	assert.Equal(t, "smtp", c.Protocol)
	assert.Equal(t, "mail:25", c.Target)
	assert.Equal(t, "initiator", c.Role)
	assert.Equal(t, 2*time.Second, c.Timeout.Duration)
	assert.True(t, c.Coalesce)
	assert.Equal(t, "memory", c.StoreConfig.Type)
	assert.Equal(t, "info", c.LogConfig.Level)
	assert.NotNil(t, c.Options)
}

func TestParseConfigDurations(t *testing.T) {
	c, err := ParseConfigBytes([]byte(`{"timeout": "150ms", "store": {"ttl": 1000000000}}`))
	require.NoError(t, err)
	assert.Equal(t, 150*time.Millisecond, c.Timeout.Duration)
	assert.Equal(t, time.Second, c.StoreConfig.TTL.Duration)

	_, err = ParseConfigBytes([]byte(`{"timeout": "soon"}`))
	assert.Error(t, err)
}

func TestParseConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"options": {"server_name": "example.com"}}`), 0o600))

	c, err := ParseConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "example.com", c.Options["server_name"])

	_, err = ParseConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "tls", c.Protocol)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"protocol": "pop3", "target": "mail:110"}`), 0o600))
	Flags = Overrides{Target: "127.0.0.1:1110", LogLevel: "debug"}
	defer func() { Flags = Overrides{} }()

	c, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "pop3", c.Protocol)
	assert.Equal(t, "127.0.0.1:1110", c.Target)
	assert.Equal(t, "debug", c.LogConfig.Level)

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}
