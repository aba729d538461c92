package job

import (
	"fmt"
	"strings"
)

// ErrorKind classifies why a job failed or a request was rejected
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindTemplate          ErrorKind = "template"
	KindChunking          ErrorKind = "chunking"
	KindModelTransient    ErrorKind = "model_transient"
	KindModelFatal        ErrorKind = "model_fatal"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindAssembly          ErrorKind = "assembly"
	KindCancelled         ErrorKind = "cancelled"
	KindInterrupted       ErrorKind = "interrupted"
	KindStorage           ErrorKind = "storage"
)

// InvalidTransitionError is returned for any status change the lifecycle
// does not allow. The record is left as it was.
type InvalidTransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s → %s", e.JobID, e.From, e.To)
}

// FieldError is one rejected field of a creation request
type FieldError struct {
	Field   string
	Message string
	Err     error // underlying cause, e.g. a *prompt.TemplateError
}

// ValidationError lists every offending field of a creation request
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid job request: " + strings.Join(parts, "; ")
}

// Has reports whether field was rejected
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationError) add(field, message string, cause error) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message, Err: cause})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
