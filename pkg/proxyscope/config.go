package proxyscope

import (
	"github.com/ghalamif/proxyscope/internal/adapters/source"
	"github.com/ghalamif/proxyscope/internal/app/config"
	"github.com/ghalamif/proxyscope/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls loop cadences, buffer sizes and history windows.
	Policy = ports.Policy
	// ProxyConfig points at the proxy's config document, access log and process.
	ProxyConfig = config.ProxyConfig
	// StoreConfig selects the time-series backend.
	StoreConfig = config.StoreConfig
	// SourceConfig selects where traffic deltas come from.
	SourceConfig = config.SourceConfig
	// EstimatorConfig selects the connection size estimator.
	EstimatorConfig = config.EstimatorConfig
	// HTTPConfig configures the read API.
	HTTPConfig = config.HTTPConfig
	// LogConfig configures logging.
	LogConfig = config.LogConfig
	// Range is an inclusive byte range for the simulated source.
	Range = source.Range
)

// EnvConfigPath names the environment variable the CLI reads the config path from.
const EnvConfigPath = config.EnvPath

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
