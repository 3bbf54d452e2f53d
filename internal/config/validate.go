package config

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/robfig/cron/v3"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			add(path, "must be one of %v, got %q", valid, value)
		}
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	oneOf("gateway.bind", cfg.Gateway.Bind, []string{"auto", "lan", "loopback", "custom"})
	oneOf("gateway.auth.mode", cfg.Gateway.Auth.Mode, []string{"none", "token", "password"})
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}

	// Store
	oneOf("store.driver", cfg.Store.Driver, []string{"sqlite", "memory"})

	// Bridge
	oneOf("bridge.mode", cfg.Bridge.Mode, []string{"local", "http"})
	if cfg.Bridge.Mode == "http" {
		if cfg.Bridge.Endpoint == "" {
			add("bridge.endpoint", "required when bridge.mode is http")
		} else if u, err := url.Parse(cfg.Bridge.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			add("bridge.endpoint", "must be an absolute URL, got %q", cfg.Bridge.Endpoint)
		}
	}
	if cfg.Bridge.TimeoutMs < 0 {
		add("bridge.timeoutMs", "must not be negative")
	}
	if cfg.Bridge.MaxInFlight < 0 {
		add("bridge.maxInFlight", "must not be negative")
	}
	if cfg.Bridge.QueueSize < 0 {
		add("bridge.queueSize", "must not be negative")
	}

	// Responder
	if cfg.Responder.Workers < 0 {
		add("responder.workers", "must not be negative")
	}
	oneOf("responder.provider", cfg.Responder.Provider, []string{"rules", "ollama", "claude"})
	if p := cfg.Responder.Provider; p == "ollama" || p == "claude" {
		if cfg.Responder.Model == "" {
			add("responder.model", "required when responder.provider is %s", p)
		}
		if p == "claude" && cfg.Responder.APIKey == "" {
			add("responder.apiKey", "required when responder.provider is claude")
		}
	}
	if e := cfg.Responder.Endpoint; e != "" {
		if u, err := url.Parse(e); err != nil || u.Scheme == "" || u.Host == "" {
			add("responder.endpoint", "must be an absolute URL, got %q", e)
		}
	}
	if cfg.Responder.MaxTokens < 0 {
		add("responder.maxTokens", "must not be negative")
	}
	if cfg.Responder.TimeoutMs < 0 {
		add("responder.timeoutMs", "must not be negative")
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if a.ID == "" {
			add(fmt.Sprintf("agents[%d].id", i), "id is required")
			continue
		}
		if seen[a.ID] {
			add(fmt.Sprintf("agents[%d].id", i), "duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}

	// Housekeeping
	if s := cfg.Housekeeping.SweepSchedule; s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			add("housekeeping.sweepSchedule", "invalid schedule %q: %v", s, err)
		}
	}

	// Logging
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	oneOf("logging.level", cfg.Logging.Level, validLogLevels)
	oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "json"})

	// Hooks
	for i, h := range append(slices.Clone(cfg.Hooks.CallStarted), cfg.Hooks.CallEnded...) {
		if h.Command == "" {
			add(fmt.Sprintf("hooks[%d].command", i), "command is required")
		}
	}

	return issues
}
