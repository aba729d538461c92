package translate

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tren/am"
	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/job"
	"github.com/teranos/tren/logger"
	"github.com/teranos/tren/prompt"
)

// JobStore is the part of *job.Store the orchestrator writes through
type JobStore interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	Claim(ctx context.Context, id string) (*job.Job, error)
	UpdateProgress(ctx context.Context, j *job.Job, p job.Progress) error
	SaveChunk(ctx context.Context, c job.ChunkResult) error
	Succeed(ctx context.Context, j *job.Job, out job.FileRef) error
	Fail(ctx context.Context, j *job.Job, f job.Failure) error
}

// Config holds the settings that may change while the orchestrator runs
type Config struct {
	Retry         RetryPolicy
	History       HistoryMode
	SpecialTokens []string
}

// DefaultConfig uses the default retry policy, source history and the
// default special tokens
func DefaultConfig() Config {
	return Config{
		Retry:         DefaultRetryPolicy(),
		History:       HistorySource,
		SpecialTokens: append([]string(nil), am.DefaultSpecialTokens...),
	}
}

// ConfigFromAM builds a Config from the translate config section
func ConfigFromAM(cfg am.TranslateConfig) (Config, error) {
	mode, err := ParseHistoryMode(cfg.History)
	if err != nil {
		return Config{}, err
	}
	tokens := cfg.SpecialTokens
	if tokens == nil {
		tokens = am.DefaultSpecialTokens
	}
	return Config{
		Retry:         RetryPolicyFromConfig(cfg),
		History:       mode,
		SpecialTokens: append([]string(nil), tokens...),
	}, nil
}

// Deps are the collaborators an Orchestrator drives
type Deps struct {
	Jobs       JobStore
	Models     job.ModelLookup
	Chunker    Chunker
	Translator Translator
	Assemblers *AssemblerRegistry
	Blobs      Blobs
}

// Orchestrator drives a job from waiting to a terminal state.
//
// Errors while processing chunks are recorded on the job, not returned:
// Run and Execute only return an error when the job store itself cannot be
// updated.
type Orchestrator struct {
	deps Deps
	log  *zap.SugaredLogger

	mu       sync.RWMutex
	cfg      Config
	observer func(*job.Job)
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps Deps, cfg Config, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		deps: deps,
		log:  logger.AddTrSymbol(log.Named("translate")),
		cfg:  cfg,
	}
}

// SetConfig replaces the config for jobs started afterwards
func (o *Orchestrator) SetConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg
}

// Config returns the current config
func (o *Orchestrator) Config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// OnUpdate registers fn to receive a copy of the job after every persisted
// change. fn must not block.
func (o *Orchestrator) OnUpdate(fn func(*job.Job)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observer = fn
}

// Run claims job id and executes it. A job that is already terminal, or
// that another worker claimed first, is left alone.
func (o *Orchestrator) Run(ctx context.Context, id string) error {
	j, err := o.deps.Jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status.IsTerminal() {
		o.log.Debugw("Job already finished", logger.FieldJobID, id, logger.FieldStatus, j.Status)
		return nil
	}

	j, err = o.deps.Jobs.Claim(ctx, id)
	if err != nil {
		var ite *job.InvalidTransitionError
		if errors.As(err, &ite) {
			o.log.Warnw("Job not claimable", logger.FieldJobID, id, logger.FieldError, err)
			return nil
		}
		return err
	}
	o.publish(j)
	return o.Execute(ctx, j)
}

// Execute processes a claimed job until it succeeds or fails
func (o *Orchestrator) Execute(ctx context.Context, j *job.Job) error {
	if j.Status != job.StatusProcessing {
		err := &job.InvalidTransitionError{JobID: j.ID, From: j.Status, To: job.StatusSucceeded}
		o.log.Warnw("Job not processing", logger.FieldJobID, j.ID, logger.FieldError, err)
		return nil
	}

	cfg := o.Config()
	log := o.log.With(logger.FieldJobID, j.ID)
	start := time.Now()
	log.Infow("Job started", logger.FieldModelID, j.Model, "input", j.InputFile.Name)

	model, err := o.deps.Models.GetModel(ctx, j.Model)
	if err != nil {
		return o.fail(ctx, j, job.KindModelFatal, 0, err)
	}

	system, err := prompt.Render(j.SystemPrompt, prompt.SystemVars(j.SourceLang, j.TargetLang, cfg.SpecialTokens))
	if err != nil {
		return o.fail(ctx, j, job.KindTemplate, 0, err)
	}
	userTmpl, err := prompt.Parse(j.UserPrompt)
	if err != nil {
		return o.fail(ctx, j, job.KindTemplate, 0, err)
	}

	chunks, err := o.deps.Chunker.Chunk(ctx, j.InputFile)
	if err != nil {
		return o.fail(ctx, j, classify(ctx, err, job.KindChunking), 0, err)
	}
	total := len(chunks)
	if err := o.progress(ctx, j, 0, total); err != nil {
		return o.fail(ctx, j, job.KindStorage, 0, err)
	}

	passthrough, _ := o.deps.Chunker.(Passthrough)
	window := NewWindow(cfg.History)
	translated := make([]string, 0, total)

	for i, chunk := range chunks {
		pos := i + 1
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, j, job.KindCancelled, pos, err)
		}

		var out string
		attempts := 0
		if strings.TrimSpace(chunk) == "" || (passthrough != nil && passthrough.Passthrough(chunk)) {
			// copied verbatim and left out of the window
			out = chunk
		} else {
			user, err := userTmpl.Execute(prompt.UserVars(window.Tail(ContextWindowSize), chunk))
			if err != nil {
				return o.fail(ctx, j, job.KindTemplate, pos, err)
			}

			attempts, err = cfg.Retry.Do(ctx, func(attempt int) error {
				callCtx := WithCallInfo(ctx, CallInfo{JobID: j.ID, Chunk: pos, Attempt: attempt})
				text, err := o.deps.Translator.Translate(callCtx, system, user, *model)
				if err == nil {
					err = CheckSpecialTokens(chunk, text, cfg.SpecialTokens)
				}
				if err != nil {
					log.Warnw("Chunk attempt failed",
						logger.FieldChunk, pos,
						logger.FieldAttempt, attempt,
						logger.FieldError, err)
					return err
				}
				out = text
				return nil
			})
			if err != nil {
				return o.fail(ctx, j, classify(ctx, err, job.KindModelFatal), pos, err)
			}
			window.Record(chunk, out)
		}

		translated = append(translated, out)
		if err := o.deps.Jobs.SaveChunk(ctx, job.ChunkResult{
			JobID:       j.ID,
			Position:    pos,
			Source:      chunk,
			Translation: out,
			Attempts:    attempts,
		}); err != nil {
			return o.fail(ctx, j, classify(ctx, err, job.KindStorage), pos, err)
		}
		if err := o.progress(ctx, j, pos, total); err != nil {
			return o.fail(ctx, j, classify(ctx, err, job.KindStorage), pos, err)
		}
		log.Debugw("Chunk translated", logger.FieldChunk, pos, logger.FieldTotal, total, logger.FieldAttempt, attempts)
	}

	mimeType := j.InputFile.MIMEType
	data, err := o.deps.Assemblers.Assemble(ctx, mimeType, translated)
	if err != nil {
		return o.fail(ctx, j, job.KindAssembly, 0, err)
	}
	ref, err := o.deps.Blobs.Write(ctx, job.OutputName(j.InputFile.Name), job.BaseType(mimeType), data)
	if err != nil {
		return o.fail(ctx, j, classify(ctx, err, job.KindStorage), 0, err)
	}
	if err := o.deps.Jobs.Succeed(ctx, j, ref); err != nil {
		var ite *job.InvalidTransitionError
		if errors.As(err, &ite) {
			log.Warnw("Job finished elsewhere", logger.FieldError, err)
			return nil
		}
		return o.fail(ctx, j, classify(ctx, err, job.KindStorage), 0, err)
	}
	o.publish(j)

	log.Infow("Job succeeded",
		logger.FieldTotal, total,
		"output", ref.Name,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return nil
}

func (o *Orchestrator) progress(ctx context.Context, j *job.Job, current, total int) error {
	if err := o.deps.Jobs.UpdateProgress(ctx, j, job.Progress{Current: current, Total: total}); err != nil {
		return err
	}
	o.publish(j)
	return nil
}

// fail records the failure on the job. The write ignores cancellation of
// ctx so a cancelled job still reaches failed.
func (o *Orchestrator) fail(ctx context.Context, j *job.Job, kind job.ErrorKind, chunk int, cause error) error {
	o.log.Errorw("Job failed",
		logger.FieldJobID, j.ID,
		logger.FieldErrorKind, kind,
		logger.FieldChunk, chunk,
		logger.FieldError, cause)

	msg := cause.Error()
	if kind == job.KindCancelled {
		if c := context.Cause(ctx); c != nil {
			msg = c.Error()
		}
	}
	f := job.Failure{Kind: kind, Message: msg, Chunk: chunk}
	if err := o.deps.Jobs.Fail(context.WithoutCancel(ctx), j, f); err != nil {
		var ite *job.InvalidTransitionError
		if errors.As(err, &ite) {
			o.log.Warnw("Failure not recorded", logger.FieldJobID, j.ID, logger.FieldError, err)
			return nil
		}
		return errors.Wrapf(err, "failed to record failure of job %s", j.ID)
	}
	o.publish(j)
	return nil
}

func (o *Orchestrator) publish(j *job.Job) {
	o.mu.RLock()
	fn := o.observer
	o.mu.RUnlock()
	if fn != nil {
		cp := *j
		fn(&cp)
	}
}

// classify maps err to a failure kind, falling back to def
func classify(ctx context.Context, err error, def job.ErrorKind) job.ErrorKind {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return job.KindCancelled
	}

	var me *ModelError
	if errors.As(err, &me) {
		if me.Transient {
			return job.KindModelTransient
		}
		return job.KindModelFatal
	}
	var ce *ChunkingError
	if errors.As(err, &ce) {
		return job.KindChunking
	}
	var ae *AssemblyError
	if errors.As(err, &ae) {
		return job.KindAssembly
	}
	var te *prompt.TemplateError
	if errors.As(err, &te) {
		return job.KindTemplate
	}
	return def
}
