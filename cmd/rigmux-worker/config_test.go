package main

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "worker.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadFile_OverlaysDefinedKeysOnly(t *testing.T) {
	path := writeConfig(t, `
endpoint = "rp://10.0.0.17"
session = "lab-3"
log_level = "debug"
`)

	cfg := &workerConfig{LogLevel: "info", LogPretty: true}
	require.NoError(t, cfg.loadFile(path))

	assert.Equal(t, "rp://10.0.0.17", cfg.Endpoint)
	assert.Equal(t, "lab-3", cfg.Session)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Mock)
	// log_pretty absent from the file, so the prior value survives.
	assert.True(t, cfg.LogPretty)
}

func TestLoadFile_MissingFile(t *testing.T) {
	cfg := defaultConfig()
	err := cfg.loadFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load worker config")
}

func TestApplyFlags_OnlySeenFlagsOverride(t *testing.T) {
	cfg := &workerConfig{Endpoint: "mock://rig0", Session: "bench-1", LogLevel: "info"}

	cfg.applyFlags(map[string]bool{"session": true, "mock": true}, "ignored", "bench-2", true, "ignored", true)

	assert.Equal(t, "mock://rig0", cfg.Endpoint)
	assert.Equal(t, "bench-2", cfg.Session)
	assert.True(t, cfg.Mock)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
}

func TestResolve(t *testing.T) {
	cfg := &workerConfig{}
	require.Error(t, cfg.resolve(), "no endpoint and no mock must be rejected")

	cfg = &workerConfig{Mock: true}
	require.NoError(t, cfg.resolve())
	assert.Equal(t, "mock", cfg.Session)

	cfg = &workerConfig{Endpoint: "rp://10.0.0.17"}
	require.NoError(t, cfg.resolve())
	assert.Equal(t, "rp://10.0.0.17", cfg.Session, "session defaults to the endpoint")

	cfg = &workerConfig{Mock: true, Session: "bench-1"}
	require.NoError(t, cfg.resolve())
	assert.Equal(t, "bench-1", cfg.Session)
}

func TestNewLogger_LevelFallback(t *testing.T) {
	cfg := &workerConfig{LogLevel: "nonsense"}
	log := cfg.newLogger()
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())

	cfg = &workerConfig{LogLevel: "warn"}
	log = cfg.newLogger()
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())
}

// TestVersionString pins the format the manager's discovery probe parses.
func TestVersionString(t *testing.T) {
	out := versionString()
	assert.Regexp(t, regexp.MustCompile(`^rigmux-worker .+ \(protocol [0-9]+\)$`), out)
}
