// Package provider turns a tren model into calls against an OpenAI-compatible
// backend. It is the translate.Translator the pulse daemon runs with.
package provider

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tren/ai/openai"
	"github.com/teranos/tren/ai/tracker"
	"github.com/teranos/tren/am"
	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/job"
	"github.com/teranos/tren/translate"
)

// UsageRecorder stores one row per model call
type UsageRecorder interface {
	TrackUsage(ctx context.Context, u *tracker.ModelUsage) error
}

// Translator implements translate.Translator over openai.Client. One client
// is kept per base URL and key so rate limits apply per endpoint.
type Translator struct {
	backend am.BackendConfig
	usage   UsageRecorder
	logger  *zap.SugaredLogger
	now     func() time.Time

	mu      sync.Mutex
	clients map[clientKey]*openai.Client
}

type clientKey struct {
	baseURL string
	apiKey  string
}

var _ translate.Translator = (*Translator)(nil)

// NewTranslator creates a Translator. usage may be nil.
func NewTranslator(backend am.BackendConfig, usage UsageRecorder, logger *zap.SugaredLogger) *Translator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Translator{
		backend: backend,
		usage:   usage,
		logger:  logger.Named("provider"),
		now:     time.Now,
		clients: make(map[clientKey]*openai.Client),
	}
}

// Translate sends one rendered prompt pair to the model's backend
func (t *Translator) Translate(ctx context.Context, system, user string, model job.Model) (string, error) {
	params, err := ParseParams(model.Params)
	if err != nil {
		return "", translate.Fatal(errors.Wrapf(err, "model %s", model.ID))
	}
	ep, err := params.Resolve(model.ID, t.backend)
	if err != nil {
		return "", translate.Fatal(errors.Wrapf(err, "model %s", model.ID))
	}

	client := t.client(ep)
	start := t.now()
	resp, err := client.Chat(ctx, openai.ChatRequest{
		Model:        ep.Model,
		SystemPrompt: system,
		UserPrompt:   user,
		Temperature:  ep.Temperature,
		MaxTokens:    ep.MaxTokens,
	})
	t.record(ctx, model, ep, start, resp, err)

	if err != nil {
		return "", &translate.ModelError{
			Transient:  openai.IsRetryable(err),
			StatusCode: openai.StatusCode(err),
			Err:        err,
		}
	}
	return resp.Content, nil
}

func (t *Translator) client(ep Endpoint) *openai.Client {
	key := clientKey{baseURL: ep.BaseURL, apiKey: ep.APIKey}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[key]; ok {
		return c
	}
	c := openai.NewClient(openai.Config{
		BaseURL:           ep.BaseURL,
		APIKey:            ep.APIKey,
		Timeout:           time.Duration(t.backend.TimeoutSeconds) * time.Second,
		RequestsPerMinute: t.backend.RequestsPerMinute,
		AllowPrivateNet:   t.backend.AllowPrivateNet,
		Logger:            t.logger,
	})
	t.clients[key] = c
	return c
}

func (t *Translator) record(ctx context.Context, model job.Model, ep Endpoint, start time.Time, resp *openai.ChatResponse, callErr error) {
	if t.usage == nil {
		return
	}

	u := &tracker.ModelUsage{
		ModelID:          model.ID,
		BackendModel:     ep.Model,
		RequestTimestamp: start,
		DurationMS:       t.now().Sub(start).Milliseconds(),
		Success:          callErr == nil,
	}
	if info, ok := translate.CallInfoFrom(ctx); ok {
		u.JobID = info.JobID
		u.Chunk = info.Chunk
		u.Attempt = info.Attempt
	}
	if resp != nil {
		u.PromptTokens = &resp.Usage.PromptTokens
		u.CompletionTokens = &resp.Usage.CompletionTokens
		u.TotalTokens = &resp.Usage.TotalTokens
	}
	if callErr != nil {
		msg := callErr.Error()
		u.ErrorMessage = &msg
	}

	// the row is written even when the job was cancelled mid-call
	if err := t.usage.TrackUsage(context.WithoutCancel(ctx), u); err != nil {
		t.logger.Warnw("Failed to track usage", "error", err, "job_id", u.JobID, "chunk", u.Chunk, "model", model.ID)
	}
}
