package workers

import (
	"chat-dispatch/observability"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// RegistryStats is the part of the connection registry the worker samples.
type RegistryStats interface {
	Stats() (users int, connections int)
}

// HealthMonitoringWorker samples the dispatcher process and the registry
// every metricInterval. Figures go to the prometheus gauges and to the
// monitoring snapshot shown by the debug inspector.
type HealthMonitoringWorker struct {
	log            *slog.Logger
	registry       RegistryStats
	metrics        *observability.Metrics
	monitoring     *observability.MonitoringManager
	metricInterval time.Duration
}

func NewHealthMonitoringWorker(
	log *slog.Logger,
	registry RegistryStats,
	metrics *observability.Metrics,
	monitoring *observability.MonitoringManager,
	metricInterval time.Duration,
) *HealthMonitoringWorker {
	return &HealthMonitoringWorker{
		log:            log,
		registry:       registry,
		metrics:        metrics,
		monitoring:     monitoring,
		metricInterval: metricInterval,
	}
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health monitoring")
			return nil
		case <-ticker.C:
			w.sample(p)
		}
	}
}

func (w *HealthMonitoringWorker) sample(p *process.Process) {
	users, connections := w.registry.Stats()
	rss, cpu, err := selfStats(p)
	if err != nil {
		w.log.Error("Failed to collect self stats", "error", err)
	} else {
		w.metrics.ProcessCPUPercent.Set(cpu)
		w.metrics.ProcessRSSBytes.Set(float64(rss))
	}
	w.monitoring.Update(users, connections, cpu, rss)
}

// selfStats retrieves resident memory and cpu usage of the given process.
func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
