package translate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/job"
	"github.com/teranos/tren/prompt"
)

func contextPrompt(previous []string, source string) string {
	if len(previous) == 0 {
		return source
	}
	return "Given the previous context:\n\n" + strings.Join(previous, "\n\n") +
		"\n\nOnly translate the following text:\n\n" + source
}

func TestOrchestratorThreeChunks(t *testing.T) {
	h := newHarness(t)
	j := h.submit(numberedDoc(3), job.MIMEMarkdown)

	done := h.run(context.Background(), j.ID)
	require.Equal(t, job.StatusSucceeded, done.Status, done.Error)

	calls := h.tr.prompts()
	require.Len(t, calls, 3)
	assert.Equal(t, "chunk-01", calls[0].user)
	assert.Equal(t, contextPrompt([]string{"chunk-01"}, "chunk-02"), calls[1].user)
	assert.Equal(t, contextPrompt([]string{"chunk-01", "chunk-02"}, "chunk-03"), calls[2].user)

	// system prompt is rendered once with the job's languages
	for _, c := range calls {
		assert.Equal(t, calls[0].system, c.system)
	}
	assert.Contains(t, calls[0].system, "Please translate German into English.")

	require.NotNil(t, done.OutputFile)
	assert.Equal(t, "doc-translated.md", done.OutputFile.Name)
	assert.Equal(t, job.MIMEMarkdown, done.OutputFile.MIMEType)
	assert.Equal(t, "[chunk-01]\n\n[chunk-02]\n\n[chunk-03]\n", h.blobs.get(done.OutputFile.Key))
	assert.Equal(t, job.Progress{Current: 3, Total: 3}, done.Progress)
	assert.NotNil(t, done.CompletedAt)
}

func TestOrchestratorWindowKeepsLastEight(t *testing.T) {
	h := newHarness(t)
	j := h.submit(numberedDoc(10), job.MIMEPlain)

	done := h.run(context.Background(), j.ID)
	require.Equal(t, job.StatusSucceeded, done.Status, done.Error)

	calls := h.tr.prompts()
	require.Len(t, calls, 10)

	var want []string
	for i := 2; i <= 9; i++ {
		want = append(want, fmt.Sprintf("chunk-%02d", i))
	}
	assert.Equal(t, contextPrompt(want, "chunk-10"), calls[9].user)
	assert.NotContains(t, calls[9].user, "chunk-01")
}

func TestOrchestratorTranslatedHistory(t *testing.T) {
	h := newHarness(t)
	cfg := h.orch.Config()
	cfg.History = HistoryTranslated
	h.orch.SetConfig(cfg)

	j := h.submit(numberedDoc(2), job.MIMEPlain)
	done := h.run(context.Background(), j.ID)
	require.Equal(t, job.StatusSucceeded, done.Status)

	calls := h.tr.prompts()
	assert.Equal(t, contextPrompt([]string{"[chunk-01]"}, "chunk-02"), calls[1].user)
}

func TestOrchestratorRetriesTransientFailure(t *testing.T) {
	h := newHarness(t)
	h.tr.respond = func(info CallInfo, source string) (string, error) {
		if info.Chunk == 2 && info.Attempt == 1 {
			return "", Transient(errors.New("rate limited"))
		}
		return "[" + source + "]", nil
	}
	j := h.submit(numberedDoc(3), job.MIMEPlain)

	done := h.run(context.Background(), j.ID)
	require.Equal(t, job.StatusSucceeded, done.Status, done.Error)
	assert.Equal(t, "[chunk-01]\n\n[chunk-02]\n\n[chunk-03]\n", h.blobs.get(done.OutputFile.Key))
	assert.Len(t, h.tr.prompts(), 4)

	chunks, err := h.store.Chunks(context.Background(), j.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 2, chunks[1].Attempts)

	// the retried attempt saw the same context as the first
	calls := h.tr.prompts()
	assert.Equal(t, calls[1].user, calls[2].user)
}

func TestOrchestratorExhaustsRetries(t *testing.T) {
	h := newHarness(t)
	h.tr.respond = func(info CallInfo, source string) (string, error) {
		if info.Chunk == 2 {
			return "", &ModelError{Transient: true, StatusCode: 503, Err: errors.New("unavailable")}
		}
		return "[" + source + "]", nil
	}
	j := h.submit(numberedDoc(4), job.MIMEPlain)

	done := h.run(context.Background(), j.ID)
	assert.Equal(t, job.StatusFailed, done.Status)
	assert.Nil(t, done.OutputFile)
	assert.Equal(t, 2, done.FailedChunk)
	assert.Equal(t, job.KindModelTransient, done.ErrorKind)
	assert.Contains(t, done.Error, "unavailable")
	assert.Len(t, h.tr.prompts(), 1+3)

	// partial results stay for diagnostics
	chunks, err := h.store.Chunks(context.Background(), j.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "[chunk-01]", chunks[0].Translation)
}

func TestOrchestratorFatalModelErrorNotRetried(t *testing.T) {
	h := newHarness(t)
	h.tr.respond = func(CallInfo, string) (string, error) {
		return "", Fatal(errors.New("invalid api key"))
	}
	j := h.submit(numberedDoc(2), job.MIMEPlain)

	done := h.run(context.Background(), j.ID)
	assert.Equal(t, job.StatusFailed, done.Status)
	assert.Equal(t, job.KindModelFatal, done.ErrorKind)
	assert.Equal(t, 1, done.FailedChunk)
	assert.Len(t, h.tr.prompts(), 1)
}

func TestOrchestratorSpecialTokens(t *testing.T) {
	h := newHarness(t)
	h.tr.respond = func(info CallInfo, source string) (string, error) {
		if info.Attempt == 1 {
			// model drops the token on its first try
			return strings.ReplaceAll(source, "𐑣", ""), nil
		}
		return "<" + source + ">", nil
	}
	j := h.submit("Eins 𐑣 zwei {{ drei }}", job.MIMEPlain)

	done := h.run(context.Background(), j.ID)
	require.Equal(t, job.StatusSucceeded, done.Status, done.Error)

	calls := h.tr.prompts()
	require.Len(t, calls, 2)
	// substituted text is not template syntax
	assert.Equal(t, "Eins 𐑣 zwei {{ drei }}", calls[0].user)
	assert.Contains(t, calls[0].system, "If there are symbols 𐑣,")
	assert.Equal(t, "<Eins 𐑣 zwei {{ drei }}>\n", h.blobs.get(done.OutputFile.Key))
}

func TestOrchestratorPassesCodeFencesThrough(t *testing.T) {
	h := newHarness(t)
	doc := "Hallo.\n\n```sh\necho hallo\n\nexit 0\n```\n\nTschüss."
	j := h.submit(doc, job.MIMEMarkdown)

	done := h.run(context.Background(), j.ID)
	require.Equal(t, job.StatusSucceeded, done.Status, done.Error)

	calls := h.tr.prompts()
	require.Len(t, calls, 2)
	// code blocks are not part of the context either
	assert.Equal(t, contextPrompt([]string{"Hallo."}, "Tschüss."), calls[1].user)
	assert.Equal(t, "[Hallo.]\n\n```sh\necho hallo\n\nexit 0\n```\n\n[Tschüss.]\n", h.blobs.get(done.OutputFile.Key))
	assert.Equal(t, job.Progress{Current: 3, Total: 3}, done.Progress)
}

func TestOrchestratorCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.tr.respond = func(info CallInfo, source string) (string, error) {
		if info.Chunk == 2 {
			cancel()
			return "", Transient(context.Canceled)
		}
		return "[" + source + "]", nil
	}
	j := h.submit(numberedDoc(3), job.MIMEPlain)

	done := h.run(ctx, j.ID)
	assert.Equal(t, job.StatusFailed, done.Status)
	assert.Equal(t, job.KindCancelled, done.ErrorKind)
	assert.Equal(t, 2, done.FailedChunk)
	assert.Nil(t, done.OutputFile)
	assert.Len(t, h.tr.prompts(), 2)
}

func TestOrchestratorTemplateErrorIsFatal(t *testing.T) {
	h := newHarness(t)
	j := h.submit(numberedDoc(2), job.MIMEPlain)

	// bypass creation checks to simulate a template that fails at render time
	_, err := h.store.DB().Exec(`UPDATE jobs SET user_prompt = ? WHERE id = ?`, "{{ source_text | join(', ') }}", j.ID)
	require.NoError(t, err)

	done := h.run(context.Background(), j.ID)
	assert.Equal(t, job.StatusFailed, done.Status)
	assert.Equal(t, job.KindTemplate, done.ErrorKind)
	assert.Equal(t, 1, done.FailedChunk)
	assert.Empty(t, h.tr.prompts())
}

func TestOrchestratorDocxWithoutChunker(t *testing.T) {
	h := newHarness(t)
	j := h.submit("PK...", job.MIMEDocx)

	done := h.run(context.Background(), j.ID)
	assert.Equal(t, job.StatusFailed, done.Status)
	assert.Equal(t, job.KindChunking, done.ErrorKind)
	assert.Equal(t, 0, done.FailedChunk)
}

func TestOrchestratorAssemblyFailure(t *testing.T) {
	h := newHarness(t)
	h.orch.deps.Assemblers = NewAssemblerRegistry()
	h.orch.deps.Assemblers.Register(job.MIMEPlain, failingAssembler{})
	j := h.submit(numberedDoc(2), job.MIMEPlain)

	done := h.run(context.Background(), j.ID)
	assert.Equal(t, job.StatusFailed, done.Status)
	assert.Equal(t, job.KindAssembly, done.ErrorKind)
	assert.Nil(t, done.OutputFile)
}

func TestOrchestratorRunIsNoOpOnTerminalJob(t *testing.T) {
	h := newHarness(t)
	j := h.submit(numberedDoc(1), job.MIMEPlain)

	first := h.run(context.Background(), j.ID)
	require.Equal(t, job.StatusSucceeded, first.Status)

	second := h.run(context.Background(), j.ID)
	assert.Equal(t, first.OutputFile, second.OutputFile)
	assert.Len(t, h.tr.prompts(), 1)
}

func TestOrchestratorRunSkipsJobClaimedElsewhere(t *testing.T) {
	h := newHarness(t)
	j := h.submit(numberedDoc(1), job.MIMEPlain)
	_, err := h.store.Claim(context.Background(), j.ID)
	require.NoError(t, err)

	got := h.run(context.Background(), j.ID)
	assert.Equal(t, job.StatusProcessing, got.Status)
	assert.Empty(t, h.tr.prompts())
}

func TestOrchestratorRunUnknownJob(t *testing.T) {
	h := newHarness(t)
	err := h.orch.Run(context.Background(), "nope")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestOrchestratorPublishesUpdates(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var seen []job.Status
	var last job.Progress
	h.orch.OnUpdate(func(j *job.Job) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, j.Status)
		last = j.Progress
	})

	j := h.submit(numberedDoc(2), job.MIMEPlain)
	h.run(context.Background(), j.ID)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, job.StatusProcessing, seen[0])
	assert.Equal(t, job.StatusSucceeded, seen[len(seen)-1])
	assert.Equal(t, job.Progress{Current: 2, Total: 2}, last)
}

func TestOrchestratorCallInfo(t *testing.T) {
	h := newHarness(t)
	j := h.submit(numberedDoc(2), job.MIMEPlain)
	h.run(context.Background(), j.ID)

	calls := h.tr.prompts()
	require.Len(t, calls, 2)
	assert.Equal(t, CallInfo{JobID: j.ID, Chunk: 1, Attempt: 1}, calls[0].info)
	assert.Equal(t, CallInfo{JobID: j.ID, Chunk: 2, Attempt: 1}, calls[1].info)
}

func TestOrchestratorRenderIsDeterministic(t *testing.T) {
	render := func() []string {
		h := newHarness(t)
		j := h.submit(numberedDoc(4), job.MIMEPlain)
		h.run(context.Background(), j.ID)
		var users []string
		for _, c := range h.tr.prompts() {
			users = append(users, c.system+"\x00"+c.user)
		}
		return users
	}
	assert.Equal(t, render(), render())
}

func TestConfigFromAM(t *testing.T) {
	cfg, err := ConfigFromAM(amTranslate("translated", []string{"§"}))
	require.NoError(t, err)
	assert.Equal(t, HistoryTranslated, cfg.History)
	assert.Equal(t, []string{"§"}, cfg.SpecialTokens)

	cfg, err = ConfigFromAM(amTranslate("", nil))
	require.NoError(t, err)
	assert.Equal(t, HistorySource, cfg.History)
	assert.NotEmpty(t, cfg.SpecialTokens)

	_, err = ConfigFromAM(amTranslate("bogus", nil))
	assert.Error(t, err)

	// default prompts accept what the orchestrator binds
	assert.NoError(t, prompt.Validate(prompt.DefaultUserPrompt, prompt.UserVariables...))
}
