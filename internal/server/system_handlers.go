package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/aristath/tradeagent/internal/database"
	"github.com/aristath/tradeagent/internal/events"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// StatsProvider is a database the status endpoints report on
type StatsProvider interface {
	Name() string
	HealthCheck(ctx context.Context) error
	GetStats() (*database.Stats, error)
}

// BrokerStatus reports brokerage connectivity
type BrokerStatus interface {
	Mock() bool
	RealtimeConnected() bool
}

// HostStats is a point-in-time view of host resources
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	DiskFreeGB    float64 `json:"disk_free_gb"`
	Goroutines    int     `json:"goroutines"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Uptime    string            `json:"uptime"`
	Databases map[string]string `json:"databases"`
	Host      HostStats         `json:"host"`
}

// SystemStatusResponse is returned by GET /api/system/status
type SystemStatusResponse struct {
	HealthResponse
	BrokerMock        bool `json:"broker_mock"`
	RealtimeConnected bool `json:"realtime_connected"`
	EventSubscribers  int  `json:"event_subscribers"`
}

// DatabaseStats is one database's file and page statistics
type DatabaseStats struct {
	Name string `json:"name"`
	*database.Stats
	Error string `json:"error,omitempty"`
}

// SystemHandlers serves health and status endpoints
type SystemHandlers struct {
	log       zerolog.Logger
	dataDir   string
	databases []StatsProvider
	broker    BrokerStatus
	events    *events.Manager
	startedAt time.Time
	hostStats func(dataDir string) HostStats
}

// NewSystemHandlers creates the system handlers. broker and manager may be nil.
func NewSystemHandlers(log zerolog.Logger, dataDir string, databases []StatsProvider, broker BrokerStatus, manager *events.Manager) *SystemHandlers {
	h := &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		dataDir:   dataDir,
		databases: databases,
		broker:    broker,
		events:    manager,
		startedAt: time.Now(),
	}
	h.hostStats = h.readHostStats
	return h
}

// HandleHealth reports database reachability and host resources.
// Any unhealthy database turns the response into a 503.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := h.health(r.Context())
	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

// HandleSystemStatus adds broker and event stream state to the health report
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp := SystemStatusResponse{HealthResponse: h.health(r.Context())}
	if h.broker != nil {
		resp.BrokerMock = h.broker.Mock()
		resp.RealtimeConnected = h.broker.RealtimeConnected()
	}
	if h.events != nil {
		resp.EventSubscribers = h.events.SubscriberCount()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleDatabaseStats returns file and page statistics per database
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make([]DatabaseStats, 0, len(h.databases))
	for _, db := range h.databases {
		s, err := db.GetStats()
		entry := DatabaseStats{Name: db.Name(), Stats: s}
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to read database stats")
			entry.Error = err.Error()
		}
		stats = append(stats, entry)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"databases": stats})
}

func (h *SystemHandlers) health(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Service:   "tradeagent",
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Databases: make(map[string]string, len(h.databases)),
		Host:      h.hostStats(h.dataDir),
	}
	for _, db := range h.databases {
		if err := db.HealthCheck(ctx); err != nil {
			resp.Status = "degraded"
			resp.Databases[db.Name()] = err.Error()
			continue
		}
		resp.Databases[db.Name()] = "ok"
	}
	return resp
}

// readHostStats samples CPU over 100ms; memory and disk are instant
func (h *SystemHandlers) readHostStats(dataDir string) HostStats {
	stats := HostStats{Goroutines: runtime.NumGoroutine()}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		stats.CPUPercent = cpuPercent[0]
	} else if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	}

	if memStat, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = memStat.UsedPercent
	} else {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	}

	if dataDir != "" {
		if usage, err := disk.Usage(dataDir); err == nil {
			stats.DiskPercent = usage.UsedPercent
			stats.DiskFreeGB = float64(usage.Free) / 1e9
		} else {
			h.log.Warn().Err(err).Str("dir", dataDir).Msg("Failed to get disk usage")
		}
	}
	return stats
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
