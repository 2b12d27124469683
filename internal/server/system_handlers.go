package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/ledgerd/internal/database"
)

// SystemHandlers serves process and storage health endpoints
type SystemHandlers struct {
	log       zerolog.Logger
	dataDir   string
	db        *database.DB
	startedAt time.Time
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(log zerolog.Logger, dataDir string, db *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		dataDir:   dataDir,
		db:        db,
		startedAt: time.Now().UTC(),
	}
}

// HealthResponse is the health endpoint payload
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemPercent    float64 `json:"mem_percent"`
	Database      string  `json:"database"`
	Timestamp     string  `json:"timestamp"`
}

// HandleHealth handles GET /api/system/health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.systemStats()

	response := HealthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		CPUPercent:    cpuPercent,
		MemPercent:    memPercent,
		Database:      "ok",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	if err := h.db.Conn().PingContext(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("Database ping failed")
		response.Status = "degraded"
		response.Database = err.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// DiskUsageResponse reports data directory sizes in MB
type DiskUsageResponse struct {
	DataDirMB  float64 `json:"data_dir_mb"`
	DatabaseMB float64 `json:"database_mb"`
}

// HandleDiskUsage handles GET /api/system/disk
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	response := DiskUsageResponse{
		DataDirMB:  h.dirSizeMB(h.dataDir),
		DatabaseMB: h.fileSizeMB(h.db.Path()),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// DatabaseStatsResponse reports basic storage statistics
type DatabaseStatsResponse struct {
	Name         string  `json:"name"`
	Path         string  `json:"path"`
	SizeMB       float64 `json:"size_mb"`
	Accounts     int     `json:"accounts"`
	Transactions int     `json:"transactions"`
	LastChecked  string  `json:"last_checked"`
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	response := DatabaseStatsResponse{
		Name:        h.db.Name(),
		Path:        h.db.Path(),
		SizeMB:      h.fileSizeMB(h.db.Path()),
		LastChecked: time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.db.Conn().QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&response.Accounts); err != nil {
		h.log.Warn().Err(err).Msg("Failed to count accounts")
	}
	if err := h.db.Conn().QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&response.Transactions); err != nil {
		h.log.Warn().Err(err).Msg("Failed to count transactions")
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// systemStats samples CPU and RAM usage percentages. The CPU sample window
// is kept short so the endpoint stays fast.
func (h *SystemHandlers) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) fileSizeMB(path string) float64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / 1024 / 1024
}

func (h *SystemHandlers) dirSizeMB(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}
