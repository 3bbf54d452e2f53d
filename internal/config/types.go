package config

// Config is the root configuration for callbridge.
type Config struct {
	Gateway      GatewayConfig      `yaml:"gateway,omitempty"`
	Store        StoreConfig        `yaml:"store,omitempty"`
	Bridge       BridgeConfig       `yaml:"bridge,omitempty"`
	Responder    ResponderConfig    `yaml:"responder,omitempty"`
	Agents       []AgentEntry       `yaml:"agents,omitempty"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping,omitempty"`
	Metrics      MetricsConfig      `yaml:"metrics,omitempty"`
	Logging      LoggingConfig      `yaml:"logging,omitempty"`
	Hooks        HooksConfig        `yaml:"hooks,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int              `yaml:"port,omitempty"`
	Bind           string           `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string           `yaml:"customBindHost,omitempty"`
	PublicURL      string           `yaml:"publicUrl,omitempty"` // base URL advertised to admin clients
	Auth           GatewayAuth      `yaml:"auth,omitempty"`
	TLS            GatewayTLS       `yaml:"tls,omitempty"`
	ControlUI      GatewayControlUI `yaml:"controlUi,omitempty"`
}

// GatewayAuth configures websocket handshake authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "none" | "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// GatewayControlUI configures browser access.
type GatewayControlUI struct {
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// StoreConfig selects where durable call records live.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`   // sqlite file; defaults to <home>/data/callbridge.db
}

// BridgeConfig configures how buyer utterances reach the response pipeline.
type BridgeConfig struct {
	Mode        string `yaml:"mode,omitempty"`     // "local" | "http"
	Endpoint    string `yaml:"endpoint,omitempty"` // processing endpoint for mode http
	Token       string `yaml:"token,omitempty"`    // bearer credential sent to the endpoint
	TimeoutMs   int    `yaml:"timeoutMs,omitempty"`
	MaxInFlight int    `yaml:"maxInFlight,omitempty"`
	QueueSize   int    `yaml:"queueSize,omitempty"`
}

// ResponderConfig configures the built-in response generator.
type ResponderConfig struct {
	Enabled   *bool  `yaml:"enabled,omitempty"` // defaults to true
	Workers   int    `yaml:"workers,omitempty"`
	Provider  string `yaml:"provider,omitempty"` // "rules" | "ollama" | "claude"
	Model     string `yaml:"model,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"` // provider base URL; empty uses the provider default
	APIKey    string `yaml:"apiKey,omitempty"`
	MaxTokens int    `yaml:"maxTokens,omitempty"`
	TimeoutMs int    `yaml:"timeoutMs,omitempty"`
}

// AgentEntry describes an agent the responder speaks as.
type AgentEntry struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name,omitempty"`
	SystemPrompt string `yaml:"systemPrompt,omitempty"`
}

// HousekeepingConfig schedules removal of ended sessions.
type HousekeepingConfig struct {
	Enabled       *bool  `yaml:"enabled,omitempty"` // defaults to true
	SweepSchedule string `yaml:"sweepSchedule,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   *bool  `yaml:"enabled,omitempty"` // defaults to true
	Namespace string `yaml:"namespace,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// HooksConfig lists shell commands run on call lifecycle events.
type HooksConfig struct {
	CallStarted []HookEntry `yaml:"callStarted,omitempty"`
	CallEnded   []HookEntry `yaml:"callEnded,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}

// Flag resolves an optional boolean with a default.
func Flag(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Agent returns the configured agent with the given ID.
func (c Config) Agent(id string) (AgentEntry, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentEntry{}, false
}
