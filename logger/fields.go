package logger

// Standard field names for structured logging. Use these instead of raw
// strings so log queries stay stable.
const (
	FieldSymbol = "symbol"

	FieldJobID   = "job_id"
	FieldModelID = "model_id"
	FieldWorker  = "worker"

	FieldChunk      = "chunk"
	FieldTotal      = "total"
	FieldAttempt    = "attempt"
	FieldDurationMS = "duration_ms"

	FieldStatus    = "status"
	FieldErrorKind = "error_kind"
	FieldError     = "error"

	FieldFile    = "file"
	FieldAddress = "address"
)
