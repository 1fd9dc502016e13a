package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"gorm.io/gorm"

	"github.com/plexbridge/plexbridge/internal/relay"
)

// HealthHandler serves /health: liveness plus a system snapshot.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	manager   *relay.Manager
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB enables the database ping check.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithManager includes active session counts.
func (h *HealthHandler) WithManager(m *relay.Manager) *HealthHandler {
	h.manager = m
	return h
}

// Register registers the health route.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Service health and system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// HealthResponse is the health report.
type HealthResponse struct {
	Status         string         `json:"status" enum:"ok,degraded"`
	Version        string         `json:"version"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	GoVersion      string         `json:"go_version"`
	Goroutines     int            `json:"goroutines"`
	ActiveSessions int            `json:"active_sessions"`
	Database       DatabaseHealth `json:"database"`
	System         SystemHealth   `json:"system"`
}

// DatabaseHealth is the store check result.
type DatabaseHealth struct {
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// SystemHealth is the gopsutil snapshot. Fields are zero when the
// platform does not expose the metric.
type SystemHealth struct {
	Load1         float64 `json:"load_1m"`
	Load5         float64 `json:"load_5m"`
	Load15        float64 `json:"load_15m"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	MemoryUsedPct float64 `json:"memory_used_pct"`
	ProcessRSSMB  uint64  `json:"process_rss_mb"`
	ProcessCPUPct float64 `json:"process_cpu_pct"`
}

// HealthOutput wraps the report.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth reports service health. The endpoint itself always answers
// 200; a failed database ping degrades the status field instead, so
// orchestrators can distinguish "down" from "unhappy".
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	resp := &HealthOutput{}
	resp.Body = HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		System:        h.systemSnapshot(ctx),
	}

	resp.Body.Database = h.pingDatabase(ctx)
	if !resp.Body.Database.Reachable {
		resp.Body.Status = "degraded"
	}
	if h.manager != nil {
		resp.Body.ActiveSessions = h.manager.Count()
	}
	return resp, nil
}

func (h *HealthHandler) pingDatabase(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Reachable: false, Error: "not configured"}
	}
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return DatabaseHealth{Reachable: false, Error: err.Error()}
	}
	return DatabaseHealth{Reachable: true}
}

func (h *HealthHandler) systemSnapshot(ctx context.Context) SystemHealth {
	var sys SystemHealth

	if avg, err := load.AvgWithContext(ctx); err == nil {
		sys.Load1 = avg.Load1
		sys.Load5 = avg.Load5
		sys.Load15 = avg.Load15
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sys.MemoryTotalMB = vm.Total / (1 << 20)
		sys.MemoryUsedPct = vm.UsedPercent
	}
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfoWithContext(ctx); err == nil {
			sys.ProcessRSSMB = mi.RSS / (1 << 20)
		}
		if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
			sys.ProcessCPUPct = pct
		}
	}
	return sys
}
