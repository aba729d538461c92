package server

import (
	"time"

	"github.com/teranos/tren/ai/tracker"
	"github.com/teranos/tren/job"
	"github.com/teranos/tren/pulse/async"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100

	// ShutdownTimeout bounds how long Shutdown waits for goroutines
	ShutdownTimeout = 5 * time.Second

	// clientSendBuffer is the per-client queue of pending job updates
	clientSendBuffer = 64

	defaultJobLimit = 50
	maxJobLimit     = 500

	// maxUploadSize leaves room for the form fields around the document
	maxUploadSize = 51 << 20
)

// ServerState is the server lifecycle state
type ServerState int32

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

func (s ServerState) String() string {
	switch s {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// JobListResponse is returned by GET /api/jobs
type JobListResponse struct {
	Jobs  []*job.Job        `json:"jobs"`
	Count int               `json:"count"`
	Stats *async.QueueStats `json:"stats,omitempty"`
}

// JobDetailResponse is returned by GET /api/jobs/{id}
type JobDetailResponse struct {
	*job.Job
	Chunks []job.ChunkResult    `json:"chunks,omitempty"`
	Usage  []tracker.ModelUsage `json:"usage,omitempty"`
}

// ModelListResponse is returned by GET /api/models
type ModelListResponse struct {
	Models []*job.Model `json:"models"`
	Count  int          `json:"count"`
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error  string            `json:"error"`
	Kind   job.ErrorKind     `json:"kind,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	State   string `json:"state"`
	Version string `json:"version"`
	Clients int    `json:"clients"`
}

// PulseResponse is returned by GET /api/pulse
type PulseResponse struct {
	Metrics     async.SystemMetrics `json:"metrics"`
	RunningJobs []string            `json:"running_jobs"`
}

// JobMessage is one websocket frame on /ws/jobs
type JobMessage struct {
	Type    string   `json:"type"` // "hello" or "job_update"
	Job     *job.Job `json:"job,omitempty"`
	Version string   `json:"version,omitempty"`
}
