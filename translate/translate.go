// Package translate turns a job's document into an ordered series of model
// prompts and drives the job to a terminal state.
//
// A job is processed one chunk at a time. Each chunk's user prompt sees the
// last ContextWindowSize completed chunks as context, so chunks of one job
// are never processed out of order or in parallel.
package translate

import (
	"context"

	"github.com/teranos/tren/job"
)

// Chunker splits an input document into ordered, non-empty text chunks
type Chunker interface {
	Chunk(ctx context.Context, file job.FileRef) ([]string, error)
}

// Passthrough is implemented by chunkers that produce chunks which must be
// copied to the output untranslated, such as fenced code blocks
type Passthrough interface {
	Passthrough(chunk string) bool
}

// Translator invokes a model with a rendered prompt pair. Failures are
// returned as *ModelError.
type Translator interface {
	Translate(ctx context.Context, system, user string, model job.Model) (string, error)
}

// Assembler builds an output document from translated chunks in order
type Assembler interface {
	Assemble(ctx context.Context, chunks []string) ([]byte, error)
}

// Blobs reads input documents and stores output documents
type Blobs interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, name, mimeType string, data []byte) (job.FileRef, error)
}

// CallInfo identifies a model call within a job
type CallInfo struct {
	JobID   string
	Chunk   int // 1-based
	Attempt int // 1-based
}

type callInfoKey struct{}

// WithCallInfo attaches info to ctx for the Translator
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFrom returns the call info attached to ctx, if any
func CallInfoFrom(ctx context.Context) (CallInfo, bool) {
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
