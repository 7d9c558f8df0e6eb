package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, []string{"default"}, cfg.Engine.Queues)

	mc := cfg.managerConfig()
	assert.Equal(t, 10, mc.Concurrency)
	assert.Equal(t, "@every 1m", mc.StaleSweepSchedule)
	assert.True(t, mc.AdvancedDiagnostics)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidentd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: postgres
  dsn: postgres://localhost/incidents
engine:
  concurrency: 4
  approval_wait_timeout: 2h
  min_diagnostics: 3
oracle:
  provider: gemini
  model: gemini-2.5-flash
`), 0o600))
	t.Setenv("INCIDENTD_ORACLE_API_KEY", "k")
	t.Setenv("INCIDENTD_ENGINE_CONCURRENCY", "6")

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "gemini", cfg.Oracle.Provider)
	assert.Equal(t, "k", cfg.Oracle.APIKey)

	mc := cfg.managerConfig()
	assert.Equal(t, 6, mc.Concurrency)
	assert.Equal(t, 2*time.Hour, mc.ApprovalWaitTimeout)
	assert.Equal(t, 3, mc.MinDiagnostics)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	l, err = newLogger(&buf, "debug", "tint")
	require.NoError(t, err)
	l.Debug("colored")
	assert.Contains(t, buf.String(), "colored")

	_, err = newLogger(&buf, "loud", "json")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}
