package httpapi

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// pingStats is the liveness payload: enough host-level signal for an
// operator to tell an overloaded relay node from a genuinely stuck one
// without reaching for a separate metrics stack.
type pingStats struct {
	Status            string  `json:"status"`
	Version           string  `json:"version"`
	CPUCores          int     `json:"cpu_cores"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
}

// collectPingStats samples current load and memory; failures to read either
// are silent since /ping must stay cheap and available, never a health
// check with its own failure modes.
func collectPingStats(version string) pingStats {
	stats := pingStats{Status: "ok", Version: version, CPUCores: runtime.NumCPU()}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil && stats.CPUCores > 0 {
		stats.LoadPercentage1Min = (loadAvg.Load1 / float64(stats.CPUCores)) * 100
	}
	if vmem, err := mem.VirtualMemory(); err == nil && vmem != nil {
		stats.MemoryUsedPercent = vmem.UsedPercent
	}
	return stats
}
