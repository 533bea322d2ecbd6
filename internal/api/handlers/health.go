package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	log "github.com/sirupsen/logrus"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports service liveness and host load
type HealthHandler struct {
	db      Pinger
	version string
	started time.Time
	dataDir string
}

// NewHealthHandler creates a new HealthHandler. dataDir is the path whose
// disk usage is reported.
func NewHealthHandler(db Pinger, version, dataDir string) *HealthHandler {
	if dataDir == "" {
		dataDir = "/"
	}
	return &HealthHandler{db: db, version: version, started: time.Now(), dataDir: dataDir}
}

// HostStats is a snapshot of host resource usage
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	DiskPercent   float64 `json:"disk_percent"`
	Goroutines    int     `json:"goroutines"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	dbStatus := "ok"
	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			log.WithError(err).Warn("health check: database unreachable")
			status, dbStatus = "degraded", "unreachable"
			code = http.StatusServiceUnavailable
		}
	}

	RenderJSON(w, code, map[string]interface{}{
		"status":   status,
		"database": dbStatus,
		"version":  h.version,
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"host":     h.hostStats(ctx),
	})
}

// hostStats collects what it can; a failing probe leaves its field zero
func (h *HealthHandler) hostStats(ctx context.Context) HostStats {
	stats := HostStats{Goroutines: runtime.NumGoroutine()}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryPercent = vm.UsedPercent
		stats.MemoryUsedMB = vm.Used / (1 << 20)
	}
	if du, err := disk.UsageWithContext(ctx, h.dataDir); err == nil {
		stats.DiskPercent = du.UsedPercent
	}
	return stats
}
