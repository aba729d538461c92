package async

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/tren/errors"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive  int     `json:"workers_active"`  // Number of workers currently executing jobs
	WorkersTotal   int     `json:"workers_total"`   // Total configured workers
	MemoryUsedGB   float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB  float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent  float64 `json:"memory_percent"`  // Memory utilization percentage
	JobsWaiting    int     `json:"jobs_waiting"`    // Jobs not yet claimed
	JobsProcessing int     `json:"jobs_processing"` // Jobs currently executing
	JobsProcessed  int     `json:"jobs_processed"`  // Jobs claimed since Start
}

// getMemoryStats returns total and available memory in bytes
var getMemoryStats = func() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics(ctx context.Context) SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	var waiting, processing int
	// Gracefully handle database errors - report 0s if the query fails
	if stats, err := wp.queue.GetStats(ctx); err == nil {
		waiting, processing = stats.Waiting, stats.Processing
	}

	wp.mu.Lock()
	activeWorkers := wp.activeWorkers
	processed := wp.jobsProcessed
	wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive:  activeWorkers,
		WorkersTotal:   wp.workers,
		MemoryUsedGB:   memUsedGB,
		MemoryTotalGB:  memTotalGB,
		MemoryPercent:  memPercent,
		JobsWaiting:    waiting,
		JobsProcessing: processing,
		JobsProcessed:  processed,
	}
}

// checkMemoryPressure compares system memory use against the configured
// threshold. Returns a warning message, or "" when memory is fine or
// cannot be read.
func (wp *WorkerPool) checkMemoryPressure() string {
	if wp.poolConfig.MemoryWarnPercent <= 0 {
		return ""
	}
	total, available, err := getMemoryStats()
	if err != nil || total == 0 {
		return ""
	}

	used := float64(total-available) / float64(total) * 100
	if used < wp.poolConfig.MemoryWarnPercent {
		return ""
	}
	return fmt.Sprintf(
		"System memory at %.1f%% (threshold %.0f%%) with %d workers. "+
			"Consider reducing pulse.workers to prevent memory pressure.",
		used, wp.poolConfig.MemoryWarnPercent, wp.workers)
}
