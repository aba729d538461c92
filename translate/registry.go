package translate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/job"
)

// ChunkerRegistry routes documents to chunkers by MIME type. It implements
// Chunker itself.
type ChunkerRegistry struct {
	chunkers map[string]Chunker // base MIME type -> chunker
	mu       sync.RWMutex
}

// NewChunkerRegistry creates an empty chunker registry
func NewChunkerRegistry() *ChunkerRegistry {
	return &ChunkerRegistry{chunkers: make(map[string]Chunker)}
}

// Register adds a chunker for mimeType.
// Panics if a chunker is already registered for that type.
func (r *ChunkerRegistry) Register(mimeType string, c Chunker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := job.BaseType(mimeType)
	if _, exists := r.chunkers[base]; exists {
		panic(fmt.Sprintf("chunker already registered for type: %s", base))
	}
	r.chunkers[base] = c
}

// Get returns the chunker for mimeType, or nil
func (r *ChunkerRegistry) Get(mimeType string) Chunker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chunkers[job.BaseType(mimeType)]
}

// CheckSupported returns an error when no chunker is registered for
// mimeType. Jobs of such a type are accepted but fail with kind chunking.
func (r *ChunkerRegistry) CheckSupported(mimeType string) error {
	if r.Get(mimeType) != nil {
		return nil
	}
	return errors.Newf("no chunker registered for %s; the job will fail when it runs", job.BaseType(mimeType))
}

// Types returns the registered MIME types, sorted
func (r *ChunkerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.chunkers))
	for t := range r.chunkers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Chunk dispatches to the chunker registered for the file's type
func (r *ChunkerRegistry) Chunk(ctx context.Context, file job.FileRef) ([]string, error) {
	c := r.Get(file.MIMEType)
	if c == nil {
		return nil, &ChunkingError{File: file, Err: errors.Newf("no chunker registered for %s", job.BaseType(file.MIMEType))}
	}
	return c.Chunk(ctx, file)
}

// Passthrough asks every registered chunker that supports it
func (r *ChunkerRegistry) Passthrough(chunk string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.chunkers {
		if p, ok := c.(Passthrough); ok && p.Passthrough(chunk) {
			return true
		}
	}
	return false
}

// AssemblerRegistry routes translated chunks to assemblers by MIME type
type AssemblerRegistry struct {
	assemblers map[string]Assembler
	mu         sync.RWMutex
}

// NewAssemblerRegistry creates an empty assembler registry
func NewAssemblerRegistry() *AssemblerRegistry {
	return &AssemblerRegistry{assemblers: make(map[string]Assembler)}
}

// Register adds an assembler for mimeType.
// Panics if an assembler is already registered for that type.
func (r *AssemblerRegistry) Register(mimeType string, a Assembler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := job.BaseType(mimeType)
	if _, exists := r.assemblers[base]; exists {
		panic(fmt.Sprintf("assembler already registered for type: %s", base))
	}
	r.assemblers[base] = a
}

// Get returns the assembler for mimeType, or nil
func (r *AssemblerRegistry) Get(mimeType string) Assembler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assemblers[job.BaseType(mimeType)]
}

// Assemble builds the output document for mimeType. Every failure is an
// *AssemblyError.
func (r *AssemblerRegistry) Assemble(ctx context.Context, mimeType string, chunks []string) ([]byte, error) {
	a := r.Get(mimeType)
	if a == nil {
		return nil, &AssemblyError{MIMEType: mimeType, Err: errors.New("no assembler registered")}
	}
	data, err := a.Assemble(ctx, chunks)
	if err != nil {
		var ae *AssemblyError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, &AssemblyError{MIMEType: mimeType, Err: err}
	}
	return data, nil
}

// NewTextRegistries returns registries with the paragraph chunker and
// assembler registered for plain text and markdown. Word documents need a
// chunker registered separately.
func NewTextRegistries(blobs Blobs) (*ChunkerRegistry, *AssemblerRegistry) {
	chunkers := NewChunkerRegistry()
	assemblers := NewAssemblerRegistry()
	pc := &ParagraphChunker{Blobs: blobs}
	for _, t := range []string{job.MIMEPlain, job.MIMEMarkdown} {
		chunkers.Register(t, pc)
		assemblers.Register(t, ParagraphAssembler{})
	}
	return chunkers, assemblers
}
