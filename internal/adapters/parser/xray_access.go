package parser

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/quartz"

	"github.com/ghalamif/proxyscope/internal/domain"
	"github.com/ghalamif/proxyscope/internal/ports"
)

// acceptRe matches the connection part of an Xray access log record:
//
//	2024/01/01 00:00:00 [from ]1.2.3.4:55 accepted tcp:example.com:443 [inbound-tag]
var acceptRe = regexp.MustCompile(`(?:(\S+)\s+)?\baccepted\s+(tcp|udp|ws):(\[[^\]]+\]|[^\s:]+)(?::(\d+))?(?:\s+\[([^\]]*)\])?`)

// XrayAccessParser recognizes "accepted" records of the Xray access log.
type XrayAccessParser struct {
	clock     quartz.Clock
	ids       *IDGenerator
	estimator ports.SizeEstimator
}

func NewXrayAccessParser(clock quartz.Clock, estimator ports.SizeEstimator) *XrayAccessParser {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if estimator == nil {
		estimator = HeuristicEstimator{}
	}
	return &XrayAccessParser{
		clock:     clock,
		ids:       NewIDGenerator(clock),
		estimator: estimator,
	}
}

func (p *XrayAccessParser) Parse(line string) (domain.ConnectionEvent, bool) {
	m := acceptRe.FindStringSubmatch(line)
	if m == nil {
		return domain.ConnectionEvent{}, false
	}

	peer := m[1]
	if peer == "from" {
		peer = ""
	}
	host := strings.Trim(m[3], "[]")
	if host == "" {
		return domain.ConnectionEvent{}, false
	}

	ev := domain.ConnectionEvent{
		ID:           p.ids.Next(),
		ObservedAt:   p.clock.Now("parser", "observed"),
		Protocol:     strings.ToUpper(m[2]),
		TargetDomain: host,
		Peer:         peer,
		InboundTag:   m[5],
	}
	if m[4] != "" {
		if port, err := strconv.Atoi(m[4]); err == nil {
			ev.TargetPort = port
		}
	}

	ev.SizeEstimate = p.estimator.Estimate(ev)
	if ev.SizeEstimate <= 0 {
		ev.SizeEstimate = 1
	}
	return ev, true
}

// IDGenerator hands out event ids derived from the wall clock in
// milliseconds, shifted to leave room for a per-millisecond sequence. Ids
// are strictly increasing for the lifetime of the generator even if the
// clock steps backwards.
type IDGenerator struct {
	mu    sync.Mutex
	clock quartz.Clock
	last  uint64
}

const idSeqBits = 10

func NewIDGenerator(clock quartz.Clock) *IDGenerator {
	return &IDGenerator{clock: clock}
}

func (g *IDGenerator) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := uint64(g.clock.Now("parser", "id").UnixMilli()) << idSeqBits
	if next <= g.last {
		next = g.last + 1
	}
	g.last = next
	return next
}

var _ ports.LineParser = (*XrayAccessParser)(nil)
