package config

import "fmt"

type Config interface {
	EnvConfig
	CorsConfig
	IdentityConfig
	RelayConfig
	WatcherConfig
	StorageConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseURL() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Identity
	Relay
	Watcher
	Storage
}

// New reads the configuration from the environment. Relay targets are parsed
// and validated here so a bad target fails at startup rather than on a click.
func New() (Config, error) {
	relay, err := LoadRelay(GetEnv(relayTargetsVar, ""), GetEnv(relayTargetsFileVar, ""))
	if err != nil {
		return nil, fmt.Errorf("[config New] relay targets: %w", err)
	}
	return mainConfig{Relay: relay}, nil
}
