package uplink

import (
	"encoding/json"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/irgordon/uplink/internal/stats"
	"github.com/irgordon/uplink/internal/transport"
)

// sendStats answers a stats request with the registry snapshot plus
// live system samples, as a JSON array of name/value pairs.
func (u *Uplink) sendStats() {
	sample := u.reg.Snapshot()
	sample = append(sample, systemStats()...)

	blob, err := json.Marshal(sample)
	if err != nil {
		return
	}
	u.sendFrame(transport.CodeStats, blob)
}

func systemStats() []stats.Stat {
	out := []stats.Stat{
		{Name: "runtime.goroutines", Value: float64(runtime.NumGoroutine())},
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	out = append(out, stats.Stat{Name: "runtime.heap_alloc", Value: float64(ms.HeapAlloc)})

	if vm, err := mem.VirtualMemory(); err == nil {
		out = append(out, stats.Stat{Name: "system.mem_used", Value: float64(vm.Used)})
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		out = append(out, stats.Stat{Name: "system.cpu_percent", Value: pct[0]})
	}
	if up, err := host.Uptime(); err == nil {
		out = append(out, stats.Stat{Name: "system.uptime", Value: float64(up)})
	}
	out = append(out, stats.Stat{Name: "system.time", Value: float64(time.Now().Unix())})
	return out
}
