package source

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/xerrors"

	"github.com/ghalamif/proxyscope/internal/domain"
	"github.com/ghalamif/proxyscope/internal/ports"
)

const (
	DefaultXrayBinary     = "xray"
	DefaultAPIServer      = "127.0.0.1:10085"
	DefaultCommandTimeout = time.Second
)

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// XrayStatsSource polls the proxy's stats service through `xray api
// statsquery` and reports per-inbound traffic since the previous poll.
type XrayStatsSource struct {
	binary  string
	server  string
	timeout time.Duration
	run     CommandRunner
	tracker *CounterTracker
}

type XrayOption func(*XrayStatsSource)

func WithCommandRunner(run CommandRunner) XrayOption {
	return func(s *XrayStatsSource) { s.run = run }
}

func NewXrayStatsSource(binary, server string, timeout time.Duration, opts ...XrayOption) *XrayStatsSource {
	if binary == "" {
		binary = DefaultXrayBinary
	}
	if server == "" {
		server = DefaultAPIServer
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	s := &XrayStatsSource{
		binary:  binary,
		server:  server,
		timeout: timeout,
		run:     execRunner,
		tracker: NewCounterTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InboundTag is the tag the configuration store gives the inbound on port.
func InboundTag(port int) string {
	return fmt.Sprintf("inbound-%d", port)
}

func (s *XrayStatsSource) Next(ctx context.Context, port int) (domain.Delta, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prefix := statsPrefix(port)
	out, err := s.run(ctx, s.binary, "api", "statsquery", "--server="+s.server, "-pattern", prefix)
	if err != nil {
		return domain.Delta{}, xerrors.Errorf("statsquery port %d: %w", port, err)
	}
	up, down, err := parseStats(out, prefix)
	if err != nil {
		return domain.Delta{}, xerrors.Errorf("statsquery port %d: %w", port, err)
	}
	upDelta, upFirst := s.tracker.Observe(prefix+"uplink", up)
	downDelta, downFirst := s.tracker.Observe(prefix+"downlink", down)
	return domain.Delta{
		Up:       upDelta,
		Down:     downDelta,
		Baseline: upFirst || downFirst,
	}, nil
}

// Commit makes the counters read by the last Next for port the baseline of
// the following one.
func (s *XrayStatsSource) Commit(port int) {
	prefix := statsPrefix(port)
	s.tracker.Commit(prefix+"uplink", prefix+"downlink")
}

// Forget drops the counter baselines of port so a re-created endpoint starts
// from its first observation.
func (s *XrayStatsSource) Forget(port int) {
	prefix := statsPrefix(port)
	s.tracker.Forget(prefix+"uplink", prefix+"downlink")
}

func statsPrefix(port int) string {
	return "inbound>>>" + InboundTag(port) + ">>>traffic>>>"
}

// parseStats reads the uplink and downlink counters out of statsquery
// output. Counters that have never moved are omitted by xray and read as 0.
func parseStats(out []byte, prefix string) (up, down uint64, err error) {
	if !gjson.ValidBytes(out) {
		return 0, 0, xerrors.New("invalid statsquery output")
	}
	gjson.GetBytes(out, "stat").ForEach(func(_, stat gjson.Result) bool {
		name := stat.Get("name").String()
		if !strings.HasPrefix(name, prefix) {
			return true
		}
		v := stat.Get("value").Int()
		if v < 0 {
			v = 0
		}
		switch strings.TrimPrefix(name, prefix) {
		case "uplink":
			up = uint64(v)
		case "downlink":
			down = uint64(v)
		}
		return true
	})
	return up, down, nil
}

var (
	_ ports.SampleSource    = (*XrayStatsSource)(nil)
	_ ports.SampleCommitter = (*XrayStatsSource)(nil)
)
