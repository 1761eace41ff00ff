package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/ghalamif/proxyscope/internal/ports"
)

const (
	DefaultTimeout = 500 * time.Millisecond
	maxTimeout     = time.Second
)

// TCPProber reports a port as reachable when a TCP connection to it
// completes within the timeout. The connection is closed immediately.
type TCPProber struct {
	host    string
	timeout time.Duration
	dialer  net.Dialer
}

func NewTCPProber(host string, timeout time.Duration) *TCPProber {
	if host == "" {
		host = "127.0.0.1"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	return &TCPProber{host: host, timeout: timeout}
}

func (p *TCPProber) IsReachable(ctx context.Context, port int) bool {
	if port <= 0 || port > 65535 {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", net.JoinHostPort(p.host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

var _ ports.Prober = (*TCPProber)(nil)
