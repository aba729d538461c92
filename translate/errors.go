package translate

import (
	"fmt"

	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/job"
)

// ChunkingError reports a document the chunker could not split
type ChunkingError struct {
	File job.FileRef
	Err  error
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("failed to chunk %s (%s): %v", e.File.Name, e.File.MIMEType, e.Err)
}

func (e *ChunkingError) Unwrap() error { return e.Err }

// ModelError is a failed model invocation. Transient errors are retried.
type ModelError struct {
	Transient  bool
	StatusCode int // HTTP status when the backend answered, 0 otherwise
	Err        error
}

func (e *ModelError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("model error (%s, status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model error (%s): %v", kind, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable model error
func Transient(err error) error {
	return &ModelError{Transient: true, Err: err}
}

// Fatal wraps err as a non-retryable model error
func Fatal(err error) error {
	return &ModelError{Err: err}
}

// IsTransient reports whether err is a retryable model error
func IsTransient(err error) bool {
	var me *ModelError
	return errors.As(err, &me) && me.Transient
}

// AssemblyError reports translated chunks that could not be turned into an
// output document
type AssemblyError struct {
	MIMEType string
	Err      error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("failed to assemble %s output: %v", e.MIMEType, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }
