package modelcache

import (
	"context"

	"github.com/shirou/gopsutil/v4/mem"
)

// ResourceProbe reports available system memory before large loads.
type ResourceProbe interface {
	AvailableMB(ctx context.Context) (int64, error)
}

// SystemProbe reads available memory from the host.
type SystemProbe struct{}

func (SystemProbe) AvailableMB(ctx context.Context) (int64, error) {
	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return int64(vmem.Available / 1024 / 1024), nil
}
