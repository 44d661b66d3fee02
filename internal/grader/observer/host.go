package observer

import (
	"context"
	"time"

	"codegrader/pkg/utils/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"
)

const defaultHostInterval = 5 * time.Second

// HostCollector samples host load so operators can size max_concurrent.
type HostCollector struct {
	workspaceRoot string
	interval      time.Duration

	cpuUsage      prometheus.Gauge
	load1         prometheus.Gauge
	memoryUsed    prometheus.Gauge
	memoryPercent prometheus.Gauge
	workspaceFree prometheus.Gauge
}

// NewHostCollector registers host gauges. workspaceRoot is the filesystem whose free space is reported.
func NewHostCollector(reg prometheus.Registerer, workspaceRoot string, interval time.Duration) *HostCollector {
	if interval <= 0 {
		interval = defaultHostInterval
	}
	factory := promauto.With(reg)
	return &HostCollector{
		workspaceRoot: workspaceRoot,
		interval:      interval,
		cpuUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "system_cpu_usage_percent",
			Help: "Total CPU usage percentage across all cores",
		}),
		load1: factory.NewGauge(prometheus.GaugeOpts{
			Name: "system_load1",
			Help: "One minute load average",
		}),
		memoryUsed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "system_memory_used_bytes",
			Help: "Total used memory in bytes",
		}),
		memoryPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "system_memory_used_percent",
			Help: "Used memory percentage",
		}),
		workspaceFree: factory.NewGauge(prometheus.GaugeOpts{
			Name: "grader_workspace_free_bytes",
			Help: "Free bytes on the workspace filesystem",
		}),
	}
}

// Run samples until ctx is done.
func (h *HostCollector) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		h.Sample(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sample takes one reading. Failures leave the previous gauge values in place.
func (h *HostCollector) Sample(ctx context.Context) {
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		h.cpuUsage.Set(pct[0])
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		h.load1.Set(avg.Load1)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.memoryUsed.Set(float64(vm.Used))
		h.memoryPercent.Set(vm.UsedPercent)
	}
	if h.workspaceRoot == "" {
		return
	}
	usage, err := disk.UsageWithContext(ctx, h.workspaceRoot)
	if err != nil {
		logger.Debug(ctx, "workspace disk usage failed", zap.Error(err))
		return
	}
	h.workspaceFree.Set(float64(usage.Free))
}
