package proxyscope

import (
	"context"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	base "github.com/ghalamif/proxyscope/pkg/proxyscope"
)

// Re-exported errors for convenience.
var (
	ErrPortAlreadyExists = base.ErrPortAlreadyExists
	ErrEndpointNotFound  = base.ErrEndpointNotFound
	ErrInvalidPort       = base.ErrInvalidPort
	ErrStoreUnavailable  = base.ErrStoreUnavailable
	ErrSourceFuncNil     = base.ErrSourceFuncNil
)

// EnvConfigPath names the environment variable the CLI reads the config path from.
const EnvConfigPath = base.EnvConfigPath

// Type aliases so consumers can import github.com/ghalamif/proxyscope directly.
type (
	Config           = base.Config
	Policy           = base.Policy
	ProxyConfig      = base.ProxyConfig
	StoreConfig      = base.StoreConfig
	SourceConfig     = base.SourceConfig
	EstimatorConfig  = base.EstimatorConfig
	HTTPConfig       = base.HTTPConfig
	LogConfig        = base.LogConfig
	Range            = base.Range
	Flow             = base.Flow
	FlowOption       = base.FlowOption
	StreamInOption   = base.StreamInOption
	StreamOutOption  = base.StreamOutOption
	Runtime          = base.Runtime
	RuntimeOption    = base.RuntimeOption
	Endpoint         = base.Endpoint
	TrafficSample    = base.TrafficSample
	Delta            = base.Delta
	ConnectionEvent  = base.ConnectionEvent
	SystemSnapshot   = base.SystemSnapshot
	EndpointSnapshot = base.EndpointSnapshot
	HostStats        = base.HostStats
	LineCollector    = base.LineCollector
	LineParser       = base.LineParser
	SizeEstimator    = base.SizeEstimator
	EventBuffer      = base.EventBuffer
	SampleSource     = base.SampleSource
	SampleSourceFunc = base.SampleSourceFunc
	SampleCommitter  = base.SampleCommitter
	TrafficStore     = base.TrafficStore
	SampleTx         = base.SampleTx
	EndpointStore    = base.EndpointStore
	Prober           = base.Prober
	HostInspector    = base.HostInspector
	Observability    = base.Observability
	Field            = base.Field
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInCollector(col LineCollector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInLines(lines <-chan string) StreamInOption {
	return base.StreamInLines(lines)
}

func StreamInParser(p LineParser) StreamInOption {
	return base.StreamInParser(p)
}

func StreamInEvents(b EventBuffer) StreamInOption {
	return base.StreamInEvents(b)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutStore(s TrafficStore) StreamOutOption {
	return base.StreamOutStore(s)
}

func StreamOutSource(s SampleSource) StreamOutOption {
	return base.StreamOutSource(s)
}

func StreamOutCallback(fn SampleSourceFunc) StreamOutOption {
	return base.StreamOutCallback(fn)
}

func StreamOutProber(p Prober) StreamOutOption {
	return base.StreamOutProber(p)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

// Runtime and options.
func NewRuntime(ctx context.Context, cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(ctx, cfg, opts...)
}

func WithLineCollector(col LineCollector) RuntimeOption {
	return base.WithLineCollector(col)
}

func WithParser(p LineParser) RuntimeOption {
	return base.WithParser(p)
}

func WithSizeEstimator(e SizeEstimator) RuntimeOption {
	return base.WithSizeEstimator(e)
}

func WithEventBuffer(b EventBuffer) RuntimeOption {
	return base.WithEventBuffer(b)
}

func WithSampleSource(s SampleSource) RuntimeOption {
	return base.WithSampleSource(s)
}

func WithTrafficStore(s TrafficStore) RuntimeOption {
	return base.WithTrafficStore(s)
}

func WithEndpointStore(s EndpointStore) RuntimeOption {
	return base.WithEndpointStore(s)
}

func WithProber(p Prober) RuntimeOption {
	return base.WithProber(p)
}

func WithHostInspector(h HostInspector) RuntimeOption {
	return base.WithHostInspector(h)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithLogger(logger slog.Logger) RuntimeOption {
	return base.WithLogger(logger)
}

func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return base.WithRegistry(reg)
}

func WithClock(c quartz.Clock) RuntimeOption {
	return base.WithClock(c)
}

func WithFs(fs afero.Fs) RuntimeOption {
	return base.WithFs(fs)
}

func WithoutHTTP() RuntimeOption {
	return base.WithoutHTTP()
}

// Source and collector adapters.
func NewChannelCollector(lines <-chan string) LineCollector {
	return base.NewChannelCollector(lines)
}
