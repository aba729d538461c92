package translate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teranos/tren/errors"
	trentest "github.com/teranos/tren/internal/testing"
	"github.com/teranos/tren/job"
)

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
	n    int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: map[string][]byte{}}
}

func (b *memBlobs) put(key, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = []byte(content)
}

func (b *memBlobs) get(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data[key])
}

func (b *memBlobs) Read(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.data[key]
	if !ok {
		return nil, errors.NewNotFoundError("blob not found: %s", key)
	}
	return d, nil
}

func (b *memBlobs) Write(_ context.Context, name, mimeType string, data []byte) (job.FileRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	key := fmt.Sprintf("out/%d", b.n)
	b.data[key] = data
	return job.FileRef{Key: key, Name: name, MIMEType: mimeType}, nil
}

type call struct {
	system string
	user   string
	info   CallInfo
}

// fakeTranslator wraps the source text of each prompt in brackets unless
// respond says otherwise
type fakeTranslator struct {
	mu      sync.Mutex
	calls   []call
	respond func(info CallInfo, source string) (string, error)
}

func (f *fakeTranslator) Translate(ctx context.Context, system, user string, _ job.Model) (string, error) {
	info, _ := CallInfoFrom(ctx)
	f.mu.Lock()
	f.calls = append(f.calls, call{system: system, user: user, info: info})
	respond := f.respond
	f.mu.Unlock()

	source := sourceOf(user)
	if respond != nil {
		return respond(info, source)
	}
	return "[" + source + "]", nil
}

func (f *fakeTranslator) prompts() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// sourceOf extracts source_text from a prompt rendered with the default
// user template
func sourceOf(user string) string {
	if i := strings.LastIndex(user, "\n\n"); i >= 0 {
		return user[i+2:]
	}
	return user
}

type harness struct {
	t     *testing.T
	store *job.Store
	svc   *job.Service
	blobs *memBlobs
	tr    *fakeTranslator
	orch  *Orchestrator
	n     int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := trentest.CreateMigratedTestDB(t)
	models := job.NewModelStore(db)
	require.NoError(t, models.Put(context.Background(), &job.Model{ID: "m1", Name: "test model"}))

	store := job.NewStore(db)
	blobs := newMemBlobs()
	chunkers, assemblers := NewTextRegistries(blobs)
	tr := &fakeTranslator{}

	cfg := DefaultConfig()
	cfg.Retry = RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	return &harness{
		t:     t,
		store: store,
		svc:   job.NewService(store, models, nil),
		blobs: blobs,
		tr:    tr,
		orch: NewOrchestrator(Deps{
			Jobs:       store,
			Models:     models,
			Chunker:    chunkers,
			Translator: tr,
			Assemblers: assemblers,
			Blobs:      blobs,
		}, cfg, nil),
	}
}

func (h *harness) submit(doc, mimeType string) *job.Job {
	h.t.Helper()
	h.n++
	key := fmt.Sprintf("in/%d", h.n)
	h.blobs.put(key, doc)
	j, err := h.svc.Create(context.Background(), job.CreateRequest{
		SourceLang: "German",
		TargetLang: "English",
		Model:      "m1",
		InputFile:  job.FileRef{Key: key, Name: "doc.md", MIMEType: mimeType},
	})
	require.NoError(h.t, err)
	return j
}

func (h *harness) run(ctx context.Context, id string) *job.Job {
	h.t.Helper()
	require.NoError(h.t, h.orch.Run(ctx, id))
	j, err := h.store.Get(context.Background(), id)
	require.NoError(h.t, err)
	return j
}

func numberedDoc(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("chunk-%02d", i+1)
	}
	return strings.Join(parts, "\n\n")
}
