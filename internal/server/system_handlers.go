package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/returnlab/internal/database"
	"github.com/aristath/returnlab/internal/scheduler"
)

// TriggerableJob is a job that can be started from the API. TryStart claims
// the job atomically so the caller can answer before the run begins.
type TriggerableJob interface {
	scheduler.Job
	Running() bool
	TryStart() (start func() error, ok bool)
}

// SystemHandlers serves host and job endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	outputDir   string
	resultsDB   *database.DB
	researchJob TriggerableJob
	startedAt   time.Time
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(log zerolog.Logger, outputDir string, resultsDB *database.DB, researchJob TriggerableJob) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		outputDir:   outputDir,
		resultsDB:   resultsDB,
		researchJob: researchJob,
		startedAt:   time.Now(),
	}
}

// SystemStatsResponse describes the host running the research jobs
type SystemStatsResponse struct {
	CPUPercent    float64         `json:"cpu_percent"`
	MemoryPercent float64         `json:"memory_percent"`
	MemoryUsedMB  float64         `json:"memory_used_mb"`
	MemoryTotalMB float64         `json:"memory_total_mb"`
	Goroutines    int             `json:"goroutines"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	OutputDirMB   float64         `json:"output_dir_mb"`
	ResultsDB     *database.Stats `json:"results_db,omitempty"`
	ResearchRun   bool            `json:"research_run_active"`
	LastChecked   string          `json:"last_checked"`
}

// HandleSystemStats handles GET /api/system/stats
func (h *SystemHandlers) HandleSystemStats(w http.ResponseWriter, r *http.Request) {
	response := SystemStatsResponse{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		OutputDirMB:   h.getDirSize(h.outputDir),
		LastChecked:   time.Now().Format(time.RFC3339),
	}

	// 100ms keeps the call responsive while still sampling CPU load
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(cpuPercent) > 0 {
		response.CPUPercent = cpuPercent[0]
	}

	if memStat, err := mem.VirtualMemory(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		response.MemoryPercent = memStat.UsedPercent
		response.MemoryUsedMB = float64(memStat.Used) / 1024 / 1024
		response.MemoryTotalMB = float64(memStat.Total) / 1024 / 1024
	}

	if h.resultsDB != nil {
		if stats, err := h.resultsDB.GetStats(); err != nil {
			h.log.Warn().Err(err).Msg("Failed to get results database stats")
		} else {
			response.ResultsDB = stats
		}
	}
	if h.researchJob != nil {
		response.ResearchRun = h.researchJob.Running()
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleTriggerResearchRun starts the research pipeline in the background
// POST /api/jobs/research-run
func (h *SystemHandlers) HandleTriggerResearchRun(w http.ResponseWriter, r *http.Request) {
	if h.researchJob == nil {
		http.Error(w, "Research job not configured", http.StatusServiceUnavailable)
		return
	}
	start, ok := h.researchJob.TryStart()
	if !ok {
		h.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"status": "running",
			"job":    h.researchJob.Name(),
		})
		return
	}

	go func() {
		if err := start(); err != nil {
			h.log.Error().Err(err).Str("job", h.researchJob.Name()).Msg("Triggered job failed")
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "started",
		"job":    h.researchJob.Name(),
	})
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
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

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
