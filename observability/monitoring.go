package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// MonitoringStats is the snapshot shown by the debug inspector.
type MonitoringStats struct {
	OnlineUsers     int       `json:"online_users"`
	OpenConnections int       `json:"open_connections"`
	CPUPercent      float64   `json:"cpu_percent"`
	RSSBytes        uint64    `json:"rss_bytes"`
	AllocMemMb      uint64    `json:"alloc_mem_mb"`
	NumGC           uint32    `json:"num_gc"`
	Goroutines      int       `json:"goroutines"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MonitoringManager keeps the latest health snapshot.
// Writers are the health monitoring worker, readers the debug inspector.
type MonitoringManager struct {
	log         *slog.Logger
	mu          sync.RWMutex
	latestStats MonitoringStats
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log}
}

// Update records registry and process figures, completed with Go runtime stats.
func (mm *MonitoringManager) Update(onlineUsers, openConnections int, cpu float64, rss uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.latestStats = MonitoringStats{
		OnlineUsers:     onlineUsers,
		OpenConnections: openConnections,
		CPUPercent:      cpu,
		RSSBytes:        rss,
		AllocMemMb:      m.Alloc / 1024 / 1024,
		NumGC:           m.NumGC,
		Goroutines:      runtime.NumGoroutine(),
		UpdatedAt:       time.Now().UTC(),
	}

	mm.log.Debug("Stats updated",
		"online_users", onlineUsers,
		"open_connections", openConnections,
		"cpu_percent", cpu,
		"mem_mb", mm.latestStats.AllocMemMb,
	)
}

func (mm *MonitoringManager) GetLatest() MonitoringStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.latestStats
}

// AsMap feeds the debug inspector template.
func (mm *MonitoringManager) AsMap() map[string]any {
	s := mm.GetLatest()
	return map[string]any{
		"Online users":     s.OnlineUsers,
		"Open connections": s.OpenConnections,
		"CPU %":            s.CPUPercent,
		"RSS bytes":        s.RSSBytes,
		"Heap MB":          s.AllocMemMb,
		"GC cycles":        s.NumGC,
		"Goroutines":       s.Goroutines,
		"Updated at":       s.UpdatedAt.Format(time.RFC3339),
	}
}
