package server

import (
	"net/http"
	"time"
)

// processStats is a point-in-time snapshot of the serving process.
type processStats struct {
	MemoryRSSBytes uint64  `json:"memory_rss_bytes"`
	CPUPercent     float64 `json:"cpu_percent"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// healthResponse reports relay liveness counters plus process stats when
// available.
type healthResponse struct {
	Status         string        `json:"status"`
	ActiveSessions int           `json:"active_sessions"`
	ActiveStreams  int           `json:"active_streams"`
	Process        *processStats `json:"process,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.relay.Health()

	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		ActiveSessions: health.ActiveSessions,
		ActiveStreams:  health.ActiveStreams,
		Process:        s.processStats(),
	})
}

func (s *Server) processStats() *processStats {
	if s.proc == nil {
		return nil
	}

	stats := &processStats{
		UptimeSeconds: time.Since(s.started).Seconds(),
	}
	if mem, err := s.proc.MemoryInfo(); err == nil {
		stats.MemoryRSSBytes = mem.RSS
	}
	if percent, err := s.proc.CPUPercent(); err == nil {
		stats.CPUPercent = percent
	}
	return stats
}
