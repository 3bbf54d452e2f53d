package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, DefaultPort, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "none", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "local", cfg.Bridge.Mode)
	assert.Equal(t, 256, cfg.Bridge.QueueSize)
	assert.Equal(t, 4, cfg.Responder.Workers)
	assert.Equal(t, "rules", cfg.Responder.Provider)
	assert.Equal(t, "@every 5m", cfg.Housekeeping.SweepSchedule)
	assert.Equal(t, "callbridge", cfg.Metrics.Namespace)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, Flag(cfg.Responder.Enabled, true))
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
gateway:
  port: 9999
  bind: lan
  auth:
    mode: token
    token: ${CB_TEST_TOKEN}
store:
  driver: memory
bridge:
  mode: http
  endpoint: http://localhost:3000/api/calls/process
  token: ${CB_TEST_TOKEN}
  maxInFlight: 8
responder:
  enabled: false
  provider: claude
  model: claude-haiku
  apiKey: ${CB_TEST_TOKEN}
agents:
  - id: agent-1
    name: Priya
housekeeping:
  sweepSchedule: "@every 1m"
logging:
  level: debug
  consoleStyle: json
hooks:
  callEnded:
    - command: echo ended
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CB_TEST_TOKEN", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "s3cret", cfg.Gateway.Auth.Token)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "http", cfg.Bridge.Mode)
	assert.Equal(t, 8, cfg.Bridge.MaxInFlight)
	assert.Equal(t, "s3cret", cfg.Bridge.Token)
	assert.Equal(t, "claude", cfg.Responder.Provider)
	assert.Equal(t, "s3cret", cfg.Responder.APIKey)
	assert.Equal(t, 300, cfg.Responder.MaxTokens)
	assert.Equal(t, 256, cfg.Bridge.QueueSize, "unset fields keep defaults")
	assert.False(t, Flag(cfg.Responder.Enabled, true))
	assert.Equal(t, "@every 1m", cfg.Housekeeping.SweepSchedule)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
	require.Len(t, cfg.Hooks.CallEnded, 1)
	assert.Equal(t, "echo ended", cfg.Hooks.CallEnded[0].Command)

	agent, ok := cfg.Agent("agent-1")
	require.True(t, ok)
	assert.Equal(t, "Priya", agent.Name)
	_, ok = cfg.Agent("missing")
	assert.False(t, ok)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway: [unclosed"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CALLBRIDGE_PORT", "4444")
	t.Setenv("CALLBRIDGE_LOG_LEVEL", "DEBUG")
	t.Setenv("CALLBRIDGE_STORE_PATH", "/tmp/calls.db")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 4444, cfg.Gateway.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/calls.db", cfg.Store.Path)
}

func TestExpandEnvVarsLeavesUnsetAlone(t *testing.T) {
	assert.Equal(t, "${CB_DEFINITELY_UNSET}", expandEnvVars("${CB_DEFINITELY_UNSET}"))
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.Empty(t, raw)

	SetValueAtPath(raw, []string{"gateway", "port"}, 5555)
	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)
	v, ok := GetValueAtPath(loaded, []string{"gateway", "port"})
	require.True(t, ok)
	assert.Equal(t, 5555, v)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5555, cfg.Gateway.Port)
}

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"single segment", "gateway", []string{"gateway"}, false},
		{"three segments", "gateway.auth.mode", []string{"gateway", "auth", "mode"}, false},
		{"empty", "", nil, true},
		{"empty segment", "bridge..mode", nil, true},
		{"trailing dot", "bridge.", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				var ce *ConfigError
				assert.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetValueAtPathReplacesScalar(t *testing.T) {
	root := map[string]any{"bridge": "http"}
	SetValueAtPath(root, []string{"bridge", "mode"}, "local")
	v, ok := GetValueAtPath(root, []string{"bridge", "mode"})
	require.True(t, ok)
	assert.Equal(t, "local", v)

	_, ok = GetValueAtPath(root, []string{"bridge", "mode", "deeper"})
	assert.False(t, ok)
}

func TestResolvePathsCustomHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CALLBRIDGE_HOME", dir)

	p, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, dir, p.Base)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), p.Config)
	assert.Equal(t, filepath.Join(dir, "data", "callbridge.db"), p.DatabasePath(StoreConfig{}))
	assert.Equal(t, "/x.db", p.DatabasePath(StoreConfig{Path: "/x.db"}))

	require.NoError(t, p.EnsureDirs())
	for _, d := range []string{p.Logs, p.Data} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestSaveRawCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh-home", "config.yaml")
	require.NoError(t, SaveRaw(path, map[string]any{"store": map[string]any{"driver": "memory"}}))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
}
