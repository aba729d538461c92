// Package job holds the translation job record, its lifecycle state machine
// and its SQLite persistence.
package job

import (
	"strconv"
	"time"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []Status{StatusWaiting, StatusProcessing, StatusSucceeded, StatusFailed}

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusWaiting, StatusProcessing, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransition reports whether from → to is legal. The only legal moves are
// waiting → processing and processing → succeeded|failed.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusWaiting:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusSucceeded || to == StatusFailed
	}
	return false
}

// FileRef points at a document in blob storage
type FileRef struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
}

// Progress counts translated chunks
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Percentage calculates progress as a percentage (0-100)
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// Job is one translation request.
//
// ID, Name, languages, Model, prompts, InputFile and CreatedAt never change
// after creation. OutputFile is set exactly once, together with the
// transition to succeeded. The remaining fields are diagnostics written by
// the orchestrator.
type Job struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SourceLang   string    `json:"source_lang"`
	TargetLang   string    `json:"target_lang"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt"`
	UserPrompt   string    `json:"user_prompt"`
	InputFile    FileRef   `json:"input_file"`
	OutputFile   *FileRef  `json:"output_file,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`

	Progress    Progress   `json:"progress"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`
	FailedChunk int        `json:"failed_chunk,omitempty"` // 1-based, 0 when not chunk specific
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DefaultName is the name given to a job created at t without one: the
// lowercase hex encoding of t in epoch seconds.
func DefaultName(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 16)
}

// Transition moves the job to status to. Illegal moves return an
// *InvalidTransitionError and leave the job unchanged. Moving to succeeded
// goes through Succeed because it needs the output file.
func (j *Job) Transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) || to == StatusSucceeded {
		return &InvalidTransitionError{JobID: j.ID, From: j.Status, To: to}
	}

	j.Status = to
	j.UpdatedAt = now
	switch to {
	case StatusProcessing:
		j.StartedAt = &now
	case StatusFailed:
		j.CompletedAt = &now
	}
	return nil
}

// Succeed sets the output file and moves a processing job to succeeded
func (j *Job) Succeed(out FileRef, now time.Time) error {
	if !CanTransition(j.Status, StatusSucceeded) || j.OutputFile != nil {
		return &InvalidTransitionError{JobID: j.ID, From: j.Status, To: StatusSucceeded}
	}
	j.OutputFile = &out
	j.Status = StatusSucceeded
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Fail moves a processing job to failed and records why
func (j *Job) Fail(f Failure, now time.Time) error {
	if err := j.Transition(StatusFailed, now); err != nil {
		return err
	}
	j.Error = f.Message
	j.ErrorKind = f.Kind
	j.FailedChunk = f.Chunk
	return nil
}

// Failure describes why a job failed
type Failure struct {
	Kind    ErrorKind
	Message string
	Chunk   int // 1-based position of the failing chunk, 0 if none
}
