package server

import (
	"context"
	"log"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemStats reports host resource usage on the health endpoint.
type SystemStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	RAMPercent float64 `json:"ram_percent"`
	RAMUsedMB  int64   `json:"ram_used_mb"`
	RAMTotalMB int64   `json:"ram_total_mb"`
}

// CollectSystemStats gathers host metrics. A failed probe degrades to
// partial data; health checks must not fail because a gauge is broken.
func CollectSystemStats(ctx context.Context) SystemStats {
	var stats SystemStats

	cpuPercent, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		log.Printf("WARN: Failed to collect CPU metrics: %v", err)
	} else if len(cpuPercent) > 0 {
		stats.CPUPercent = cpuPercent[0]
	}

	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		log.Printf("WARN: Failed to collect memory metrics: %v", err)
	} else {
		stats.RAMPercent = vmem.UsedPercent
		stats.RAMUsedMB = int64(vmem.Used / 1024 / 1024)
		stats.RAMTotalMB = int64(vmem.Total / 1024 / 1024)
	}

	return stats
}
