package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultPort          = 3002
	DefaultSweepSchedule = "@every 5m"
	DefaultBridgeTimeout = 10000
	DefaultModelTimeout  = 20000
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: DefaultPort,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "none",
			},
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Bridge: BridgeConfig{
			Mode:        "local",
			TimeoutMs:   DefaultBridgeTimeout,
			MaxInFlight: 64,
			QueueSize:   256,
		},
		Responder: ResponderConfig{
			Workers:   4,
			Provider:  "rules",
			MaxTokens: 300,
			TimeoutMs: DefaultModelTimeout,
		},
		Housekeeping: HousekeepingConfig{
			SweepSchedule: DefaultSweepSchedule,
		},
		Metrics: MetricsConfig{
			Namespace: "callbridge",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
