package server

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleSystemStatus reports process and host health: uptime, memory, CPU,
// disk and per-database file sizes.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := map[string]interface{}{
		"status":         "running",
		"uptime_seconds": int64(time.Since(s.startupTime).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc_mb":       m.Alloc / 1024 / 1024,
			"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
			"sys_mb":         m.Sys / 1024 / 1024,
			"num_gc":         m.NumGC,
		},
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		response["host_memory"] = map[string]interface{}{
			"total_mb":     vm.Total / 1024 / 1024,
			"used_mb":      vm.Used / 1024 / 1024,
			"used_percent": vm.UsedPercent,
		}
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		response["cpu_percent"] = percents[0]
	}
	if usage, err := disk.Usage(s.dataDir); err == nil {
		response["disk"] = map[string]interface{}{
			"free_gb":      float64(usage.Free) / 1e9,
			"used_percent": usage.UsedPercent,
		}
	}

	databases := map[string]interface{}{}
	for name, db := range s.databases {
		info, err := os.Stat(db.Path())
		if err != nil {
			continue
		}
		databases[name] = map[string]interface{}{
			"size_mb": float64(info.Size()) / 1024 / 1024,
		}
	}
	response["databases"] = databases

	s.writeJSON(w, http.StatusOK, response)
}

// handleListBackups lists the backups stored in the backup bucket.
func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		s.writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	}

	backups, err := s.backups.ListBackups(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"backups": backups,
		"count":   len(backups),
	})
}

// handleTriggerBackup runs a backup cycle on demand.
func (s *Server) handleTriggerBackup(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		s.writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	}

	if err := s.backups.CreateAndUploadBackup(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
