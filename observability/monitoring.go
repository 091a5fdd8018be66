package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// ProcessStats is what the health worker samples from the OS.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
}

// MonitoringStats aggregates everything the debug server shows.
type MonitoringStats struct {
	Process     ProcessStats `json:"process"`
	Goroutines  int          `json:"goroutines"`
	AllocMemMb  uint64       `json:"alloc_mem_mb"`
	NumGC       uint32       `json:"num_gc"`
	Sessions    int          `json:"sessions"`
	OnlineUsers int          `json:"online_users"`
	SampledAt   time.Time    `json:"sampled_at"`
}

// MonitoringManager keeps the latest sampled stats.
type MonitoringManager struct {
	log         *slog.Logger
	mu          sync.RWMutex
	latestStats MonitoringStats
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log}
}

// UpdateProcess stores a new OS sample along with Go runtime stats.
func (mm *MonitoringManager) UpdateProcess(stats ProcessStats) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.latestStats.Process = stats
	mm.latestStats.Goroutines = runtime.NumGoroutine()
	mm.latestStats.AllocMemMb = m.Alloc / 1024 / 1024
	mm.latestStats.NumGC = m.NumGC
	mm.latestStats.SampledAt = time.Now().UTC()

	ProcessCPU.Set(stats.CPUPercent)
	ProcessRSS.Set(float64(stats.RSSBytes))

	mm.log.Debug("Stats updated",
		"cpu", stats.CPUPercent,
		"rss", stats.RSSBytes,
		"goroutines", mm.latestStats.Goroutines,
	)
}

// UpdateSessions stores the live session and online user counts.
func (mm *MonitoringManager) UpdateSessions(sessions, onlineUsers int) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.latestStats.Sessions = sessions
	mm.latestStats.OnlineUsers = onlineUsers
}

func (mm *MonitoringManager) GetLatest() MonitoringStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.latestStats
}
