package web

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostSnapshot describes the machine the decoder runs on. Fields the
// platform cannot report stay zero.
type HostSnapshot struct {
	CPUs           int     `json:"cpus"`
	Load1          float64 `json:"load1"`
	Load5          float64 `json:"load5"`
	Load15         float64 `json:"load15"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	UptimeSec      uint64  `json:"uptime_sec"`
	Goroutines     int     `json:"goroutines"`
}

func ReadHost() HostSnapshot {
	s := HostSnapshot{Goroutines: runtime.NumGoroutine()}
	if n, err := cpu.Counts(true); err == nil {
		s.CPUs = n
	}
	if avg, err := load.Avg(); err == nil {
		s.Load1, s.Load5, s.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemUsedPercent = vm.UsedPercent
	}
	if up, err := host.Uptime(); err == nil {
		s.UptimeSec = up
	}
	return s
}
