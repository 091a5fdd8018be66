package workers

import (
	"context"
	"dm-relay/observability"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// SessionCounter gives the worker the live session figures to publish.
type SessionCounter func() (sessions, onlineUsers int)

// HealthMonitoringWorker samples the server process through gopsutil
// and publishes it with the session counts.
type HealthMonitoringWorker struct {
	log            *slog.Logger
	monitoring     *observability.MonitoringManager
	sessions       SessionCounter
	metricInterval time.Duration
	pid            int32
}

func NewHealthMonitoringWorker(log *slog.Logger, monitoring *observability.MonitoringManager,
	sessions SessionCounter, metricInterval time.Duration) *HealthMonitoringWorker {
	return &HealthMonitoringWorker{
		log:            log,
		monitoring:     monitoring,
		sessions:       sessions,
		metricInterval: metricInterval,
		pid:            int32(os.Getpid()),
	}
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(w.pid)
	if err != nil {
		// Returned error lets the supervisor retry later
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
	stats := observability.ProcessStats{PID: w.pid}
	if cpu, err := p.CPUPercent(); err != nil {
		w.log.Debug("Error while finding process cpu usage", "err", err)
	} else {
		stats.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err != nil {
		w.log.Debug("Error while finding process memory usage", "err", err)
	} else {
		stats.RSSBytes = mem.RSS
	}
	if threads, err := p.NumThreads(); err == nil {
		stats.Threads = threads
	}
	w.monitoring.UpdateProcess(stats)

	if w.sessions != nil {
		sessions, online := w.sessions()
		w.monitoring.UpdateSessions(sessions, online)
	}
}
