package probe

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/ghalamif/proxyscope/internal/adapters/observability"
	"github.com/ghalamif/proxyscope/internal/domain"
	"github.com/ghalamif/proxyscope/internal/ports"
)

// ProcessInspector looks for the proxy among running processes and samples
// host CPU and memory usage.
type ProcessInspector struct {
	name string
	obs  ports.Observability
}

func NewProcessInspector(processName string, obs ports.Observability) *ProcessInspector {
	if obs == nil {
		obs = observability.Nop{}
	}
	return &ProcessInspector{name: strings.ToLower(processName), obs: obs}
}

func (i *ProcessInspector) ProxyRunning(ctx context.Context) bool {
	if i.name == "" {
		return false
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		i.obs.LogDebug("process_list_failed", ports.Field{Key: "error", Value: err.Error()})
		return false
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(name), i.name) {
			return true
		}
	}
	return false
}

func (i *ProcessInspector) HostStats(ctx context.Context) domain.HostStats {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(pct) == 0 {
		return domain.HostStats{}
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return domain.HostStats{}
	}
	return domain.HostStats{
		Known:      true,
		CPUPercent: pct[0],
		MemPercent: vm.UsedPercent,
	}
}

// StaticInspector is used when process inspection is disabled: the proxy is
// assumed to be running and host stats are unknown.
type StaticInspector struct{}

func (StaticInspector) ProxyRunning(context.Context) bool { return true }
func (StaticInspector) HostStats(context.Context) domain.HostStats { return domain.HostStats{} }

var (
	_ ports.HostInspector = (*ProcessInspector)(nil)
	_ ports.HostInspector = StaticInspector{}
)
