package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/proxyscope/internal/adapters/source"
	"github.com/ghalamif/proxyscope/internal/ports"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "PROXYSCOPE_CONFIG"

type Config struct {
	Policy    ports.Policy    `yaml:"policy"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Store     StoreConfig     `yaml:"store"`
	Source    SourceConfig    `yaml:"source"`
	Estimator EstimatorConfig `yaml:"estimator"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
}

type ProxyConfig struct {
	ConfigPath  string `yaml:"config_path"`
	AccessLog   string `yaml:"access_log"`
	ProcessName string `yaml:"process_name"`
	// InspectHost gates endpoint liveness on the proxy process running.
	InspectHost *bool `yaml:"inspect_host"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
	// ConnectTimeout bounds how long startup waits for the store.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type SourceConfig struct {
	Kind       string        `yaml:"kind"`
	XrayBinary string        `yaml:"xray_binary"`
	APIServer  string        `yaml:"api_server"`
	Timeout    time.Duration `yaml:"timeout"`
	Up         source.Range  `yaml:"up"`
	Down       source.Range  `yaml:"down"`
	Seed       uint64        `yaml:"seed"`
}

type EstimatorConfig struct {
	Kind  string `yaml:"kind"`
	Bytes int64  `yaml:"bytes"`
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	StreamInterval time.Duration `yaml:"stream_interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// InspectHost reports whether the host inspector is enabled.
func (c *Config) InspectHost() bool {
	return c.Proxy.InspectHost == nil || *c.Proxy.InspectHost
}

func (c *Config) applyDefaults() {
	if c.Policy.TickInterval == 0 {
		c.Policy.TickInterval = 2 * time.Second
	}
	if c.Policy.PollInterval == 0 {
		c.Policy.PollInterval = 500 * time.Millisecond
	}
	if c.Policy.ProbeTimeout == 0 {
		c.Policy.ProbeTimeout = 500 * time.Millisecond
	}
	if c.Policy.ProbeHost == "" {
		c.Policy.ProbeHost = "127.0.0.1"
	}
	if c.Policy.EventCapacity == 0 {
		c.Policy.EventCapacity = 100
	}
	if c.Policy.HistoryWindow == 0 {
		c.Policy.HistoryWindow = 60
	}
	if c.Policy.MaxHistoryLimit == 0 {
		c.Policy.MaxHistoryLimit = 1000
	}
	if c.Policy.TickConcurrency == 0 {
		c.Policy.TickConcurrency = 8
	}
	if c.Policy.ProbeAlertAfter == 0 {
		c.Policy.ProbeAlertAfter = 5
	}

	if c.Proxy.ConfigPath == "" {
		c.Proxy.ConfigPath = "./config.json"
	}
	if c.Proxy.AccessLog == "" {
		c.Proxy.AccessLog = "./access.log"
	}
	if c.Proxy.ProcessName == "" {
		c.Proxy.ProcessName = "xray"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = "./stats.db"
	}
	if c.Store.Table == "" {
		c.Store.Table = "traffic_stats"
	}
	if c.Store.ConnectTimeout == 0 {
		c.Store.ConnectTimeout = 30 * time.Second
	}

	if c.Source.Kind == "" {
		c.Source.Kind = "random"
	}
	if c.Source.XrayBinary == "" {
		c.Source.XrayBinary = source.DefaultXrayBinary
	}
	if c.Source.APIServer == "" {
		c.Source.APIServer = source.DefaultAPIServer
	}
	if c.Source.Timeout == 0 {
		c.Source.Timeout = source.DefaultCommandTimeout
	}
	if c.Source.Up.Max == 0 {
		c.Source.Up = source.DefaultUpRange
	}
	if c.Source.Down.Max == 0 {
		c.Source.Down = source.DefaultDownRange
	}

	if c.Estimator.Kind == "" {
		c.Estimator.Kind = "heuristic"
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":3000"
	}
	if c.HTTP.StreamInterval == 0 {
		c.HTTP.StreamInterval = 2 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Policy.TickInterval < 0 || c.Policy.PollInterval < 0 {
		return fmt.Errorf("policy intervals must be positive")
	}
	if c.Policy.ProbeTimeout > time.Second {
		return fmt.Errorf("policy.probe_timeout must not exceed 1s, got %s", c.Policy.ProbeTimeout)
	}
	if c.Policy.EventCapacity < 0 {
		return fmt.Errorf("policy.event_capacity must be positive")
	}
	if c.Policy.HistoryWindow < 0 || c.Policy.MaxHistoryLimit < c.Policy.HistoryWindow {
		return fmt.Errorf("policy.history_window must be between 0 and max_history_limit")
	}
	switch c.Store.Driver {
	case "sqlite", "timescale":
	default:
		return fmt.Errorf("store.driver must be sqlite or timescale, got %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	switch c.Source.Kind {
	case "random", "xray":
	default:
		return fmt.Errorf("source.kind must be random or xray, got %q", c.Source.Kind)
	}
	if c.Source.Up.Min > c.Source.Up.Max || c.Source.Down.Min > c.Source.Down.Max {
		return fmt.Errorf("source ranges need min <= max")
	}
	switch c.Estimator.Kind {
	case "constant", "heuristic", "random":
	default:
		return fmt.Errorf("estimator.kind must be constant, heuristic or random, got %q", c.Estimator.Kind)
	}
	if c.Estimator.Kind == "constant" && c.Estimator.Bytes <= 0 {
		return fmt.Errorf("estimator.bytes must be positive for the constant estimator")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}
