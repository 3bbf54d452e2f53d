package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envRef matches ${NAME} references inside secret-bearing values.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars substitutes ${NAME} with the variable's value. References
// to unset variables stay as written so the mistake is visible.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		if val, ok := os.LookupEnv(envRef.FindStringSubmatch(ref)[1]); ok {
			return val
		}
		return ref
	})
}

// Load returns defaults merged with the YAML file at path and CALLBRIDGE_*
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		applyEnvOverrides(&cfg)
		return cfg, nil
	case err != nil:
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	for _, secret := range []*string{&cfg.Gateway.Auth.Token, &cfg.Gateway.Auth.Password, &cfg.Bridge.Endpoint, &cfg.Bridge.Token, &cfg.Responder.APIKey, &cfg.Responder.Endpoint} {
		*secret = expandEnvVars(*secret)
	}
	return cfg, nil
}

// LoadRaw reads the file as a generic map for dot-path access. A missing
// or empty file yields an empty map.
func LoadRaw(path string) (map[string]any, error) {
	raw := map[string]any{}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return raw, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes raw back as YAML, creating the config directory if needed.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func orDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

// applyDefaults fills fields a partial file left at their zero value.
func applyDefaults(cfg *Config) {
	def := Defaults()
	orDefault(&cfg.Gateway.Port, def.Gateway.Port)
	orDefault(&cfg.Gateway.Bind, def.Gateway.Bind)
	orDefault(&cfg.Gateway.Auth.Mode, def.Gateway.Auth.Mode)
	orDefault(&cfg.Store.Driver, def.Store.Driver)
	orDefault(&cfg.Bridge.Mode, def.Bridge.Mode)
	orDefault(&cfg.Bridge.TimeoutMs, def.Bridge.TimeoutMs)
	orDefault(&cfg.Bridge.MaxInFlight, def.Bridge.MaxInFlight)
	orDefault(&cfg.Bridge.QueueSize, def.Bridge.QueueSize)
	orDefault(&cfg.Responder.Workers, def.Responder.Workers)
	orDefault(&cfg.Responder.Provider, def.Responder.Provider)
	orDefault(&cfg.Responder.MaxTokens, def.Responder.MaxTokens)
	orDefault(&cfg.Responder.TimeoutMs, def.Responder.TimeoutMs)
	orDefault(&cfg.Housekeeping.SweepSchedule, def.Housekeeping.SweepSchedule)
	orDefault(&cfg.Metrics.Namespace, def.Metrics.Namespace)
	orDefault(&cfg.Logging.Level, def.Logging.Level)
	orDefault(&cfg.Logging.ConsoleStyle, def.Logging.ConsoleStyle)
}

// envOverrides maps CALLBRIDGE_* variables onto config fields.
var envOverrides = []struct {
	name  string
	apply func(cfg *Config, v string)
}{
	{"CALLBRIDGE_PORT", func(cfg *Config, v string) {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}},
	{"CALLBRIDGE_BIND", func(cfg *Config, v string) { cfg.Gateway.Bind = v }},
	{"CALLBRIDGE_LOG_LEVEL", func(cfg *Config, v string) { cfg.Logging.Level = strings.ToLower(v) }},
	{"CALLBRIDGE_STORE_PATH", func(cfg *Config, v string) { cfg.Store.Path = v }},
	{"CALLBRIDGE_BRIDGE_ENDPOINT", func(cfg *Config, v string) { cfg.Bridge.Endpoint = v }},
	{"CALLBRIDGE_BRIDGE_TOKEN", func(cfg *Config, v string) { cfg.Bridge.Token = v }},
	{"CALLBRIDGE_RESPONDER_API_KEY", func(cfg *Config, v string) { cfg.Responder.APIKey = v }},
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}
