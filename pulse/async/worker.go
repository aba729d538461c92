package async

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tren/am"
	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/job"
	"github.com/teranos/tren/logger"
	"github.com/teranos/tren/sym"
)

var (
	// ErrCancelledByUser is the cancellation cause of a job stopped through Cancel
	ErrCancelledByUser = errors.New("cancelled by user")
	// ErrShutdown is the cancellation cause of jobs still running when the
	// shutdown grace period ran out
	ErrShutdown = errors.New("worker pool shut down")
)

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker/daemon operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event - uses DEBUG level for "STARTING" appearance
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.PulseOpen+" "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event - uses WARN level for "CLOSING" appearance
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.PulseClose+" "+msg, keysAndValues...)
}

// Pulse logs general Pulse/worker operations - uses INFO level
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// JobExecutor processes a claimed job to a terminal state
type JobExecutor interface {
	Execute(ctx context.Context, j *job.Job) error
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers           int           `json:"workers"`             // Number of concurrent workers
	PollInterval      time.Duration `json:"poll_interval"`       // How often idle workers look for waiting jobs
	JobTimeout        time.Duration `json:"job_timeout"`         // 0 = no deadline
	MemoryWarnPercent float64       `json:"memory_warn_percent"` // 0 = no memory check
	RecoverOnStart    bool          `json:"recover_on_start"`    // Fail jobs left processing by a previous process
	ShutdownGrace     time.Duration `json:"shutdown_grace"`      // How long Stop lets in-flight jobs finish
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:           2,
		PollInterval:      time.Second,
		MemoryWarnPercent: 90,
		RecoverOnStart:    true,
		ShutdownGrace:     30 * time.Second,
	}
}

// PoolConfigFromAM builds the pool config from the pulse config section
func PoolConfigFromAM(cfg am.PulseConfig) WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:           cfg.Workers,
		PollInterval:      time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		JobTimeout:        time.Duration(cfg.JobTimeoutSeconds) * time.Second,
		MemoryWarnPercent: cfg.MemoryWarnPercent,
		RecoverOnStart:    cfg.RecoverOnStart,
		ShutdownGrace:     time.Duration(cfg.ShutdownGraceSeconds) * time.Second,
	}
}

// WorkerPool manages a pool of workers that claim and run translation jobs.
// Each worker runs one job at a time, start to finish.
type WorkerPool struct {
	queue      *Queue
	executor   JobExecutor
	poolConfig WorkerPoolConfig
	workers    int

	parentCtx  context.Context    // Parent context from which worker contexts are derived
	ctx        context.Context    // Cancelled by Stop: no new claims
	cancel     context.CancelFunc
	jobsCtx    context.Context    // Cancelled when the shutdown grace runs out
	cancelJobs context.CancelCauseFunc
	wg         sync.WaitGroup
	wake       chan struct{}

	// claimMu is read-held from ClaimNext until the job is in running, so
	// Cancel can wait out a claim that beat it
	claimMu    sync.RWMutex
	afterClaim func(*job.Job) // test hook, runs inside the claim section

	mu            sync.Mutex
	running       map[string]context.CancelCauseFunc // job id -> cancel
	jobsProcessed int
	activeWorkers int
	startTime     time.Time
	logger        pulseLogger
}

// NewWorkerPool creates a worker pool. Cancelling ctx stops the pool like
// Stop, without the grace period.
func NewWorkerPool(ctx context.Context, queue *Queue, executor JobExecutor, poolCfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = time.Second
	}

	workerCtx, cancel := context.WithCancel(ctx)
	jobsCtx, cancelJobs := context.WithCancelCause(ctx)

	return &WorkerPool{
		queue:      queue,
		executor:   executor,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		jobsCtx:    jobsCtx,
		cancelJobs: cancelJobs,
		wake:       make(chan struct{}, 1),
		running:    make(map[string]context.CancelCauseFunc),
		logger:     pulseLogger{logger.AddPulseSymbol(log.Named("pulse"))},
	}
}

// Start begins processing jobs with the worker pool
// ✿ Opening: fail jobs orphaned by a crash before starting workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	// Check if context was cancelled (after Stop()) - if so, create new one
	select {
	case <-wp.ctx.Done():
		wp.cancelJobs(nil)
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.jobsCtx, wp.cancelJobs = context.WithCancelCause(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	if wp.poolConfig.RecoverOnStart {
		if err := wp.recoverInterruptedJobs(); err != nil {
			wp.logger.Warnw("Failed to recover interrupted jobs", logger.FieldError, err)
		}
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	wp.logger.Starting("Worker pool started", "workers", wp.workers, "poll_interval", wp.poolConfig.PollInterval)
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// recoverInterruptedJobs fails every job still marked processing. Jobs
// cannot go back to waiting, so the user resubmits them.
func (wp *WorkerPool) recoverInterruptedJobs() error {
	ids, err := wp.queue.Store().RecoverInterrupted(wp.ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	wp.logger.Starting("Opening - failed jobs interrupted by previous shutdown", "count", len(ids))
	for _, id := range ids {
		if j, err := wp.queue.GetJob(wp.ctx, id); err == nil {
			wp.queue.Publish(j)
		}
	}
	return nil
}

// Stop gracefully stops the worker pool
// ❀ Closing: in-flight jobs get the shutdown grace period to finish, then
// they are cancelled and recorded as failed
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	grace := wp.poolConfig.ShutdownGrace
	select {
	case <-done:
		wp.logger.Pulse(sym.PulseClose + " WorkerPool.Stop() complete - all workers exited cleanly")
		return
	case <-time.After(grace):
	}

	wp.logger.Closing("Shutdown grace elapsed, cancelling running jobs", "grace", grace, "running", wp.RunningJobs())
	wp.cancelJobs(ErrShutdown)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		wp.logger.Closing("WorkerPool.Stop() timeout - workers may still be recording failures")
	}
}

// Wake makes an idle worker look for waiting jobs now instead of at the
// next poll
func (wp *WorkerPool) Wake() {
	select {
	case wp.wake <- struct{}{}:
	default:
	}
}

// Cancel stops job id. A running job's context is cancelled and the
// orchestrator records it as failed; a waiting job is failed right away.
// Cancelling a finished job returns *job.InvalidTransitionError.
func (wp *WorkerPool) Cancel(ctx context.Context, id string) error {
	if wp.cancelRunning(id) {
		return nil
	}

	_, err := wp.queue.CancelWaiting(ctx, id, ErrCancelledByUser.Error())
	var ite *job.InvalidTransitionError
	if errors.As(err, &ite) && ite.From == job.StatusProcessing {
		// a worker may have claimed it after the first lookup
		wp.claimMu.Lock()
		wp.claimMu.Unlock()
		if wp.cancelRunning(id) {
			return nil
		}
	}
	return err
}

func (wp *WorkerPool) cancelRunning(id string) bool {
	wp.mu.Lock()
	cancel, ok := wp.running[id]
	wp.mu.Unlock()
	if ok {
		wp.logger.Closing("Cancelling running job", logger.FieldJobID, id)
		cancel(ErrCancelledByUser)
	}
	return ok
}

// RunningJobs returns the ids of jobs currently executing
func (wp *WorkerPool) RunningJobs() []string {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	ids := make([]string, 0, len(wp.running))
	for id := range wp.running {
		ids = append(ids, id)
	}
	return ids
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	// Error backoff state
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
		case <-wp.wake:
		}

		// drain: keep claiming while jobs are waiting
		for {
			processed, err := wp.processNextJob(id)
			if err != nil {
				select {
				case <-wp.ctx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) {
					// Database closed during shutdown - exit silently
					return
				}

				errorCount++
				wp.logger.Errorw("Worker error processing job",
					logger.FieldWorker, id,
					logger.FieldError, err,
					"consecutive_errors", errorCount)

				if errorCount >= maxConsecutiveErrors {
					wp.logger.Warnw("Worker backing off due to consecutive errors",
						logger.FieldWorker, id,
						"backoff", backoffDuration,
						"consecutive_errors", errorCount)
					select {
					case <-wp.ctx.Done():
						return
					case <-time.After(backoffDuration):
					}
					backoffDuration = min(backoffDuration*2, maxBackoff)
				}
				break
			}

			if errorCount > 0 {
				wp.logger.Infow("Worker recovered from errors",
					logger.FieldWorker, id,
					"previous_error_count", errorCount)
			}
			errorCount = 0
			backoffDuration = time.Second
			if !processed {
				break
			}
		}
	}
}

// processNextJob claims the oldest waiting job and runs it. It reports
// whether a job was claimed.
func (wp *WorkerPool) processNextJob(workerID int) (bool, error) {
	select {
	case <-wp.ctx.Done():
		return false, nil
	default:
	}

	wp.claimMu.RLock()
	j, err := wp.queue.Store().ClaimNext(wp.ctx)
	if err != nil {
		wp.claimMu.RUnlock()
		return false, errors.Wrap(err, "failed to claim next job")
	}
	if j == nil {
		wp.claimMu.RUnlock()
		return false, nil
	}
	if wp.afterClaim != nil {
		wp.afterClaim(j)
	}

	wp.mu.Lock()
	jobsRoot := wp.jobsCtx
	wp.mu.Unlock()

	jobCtx, cancel := context.WithCancelCause(jobsRoot)
	defer cancel(nil)
	if wp.poolConfig.JobTimeout > 0 {
		var cancelTimeout context.CancelFunc
		jobCtx, cancelTimeout = context.WithTimeout(jobCtx, wp.poolConfig.JobTimeout)
		defer cancelTimeout()
	}

	wp.mu.Lock()
	wp.running[j.ID] = cancel
	wp.activeWorkers++
	wp.jobsProcessed++
	wp.mu.Unlock()
	wp.claimMu.RUnlock()
	wp.queue.Publish(j)
	defer func() {
		wp.mu.Lock()
		delete(wp.running, j.ID)
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	wp.logger.Pulse("Job claimed", logger.FieldJobID, j.ID, logger.FieldWorker, workerID, "name", j.Name)
	if err := wp.executor.Execute(jobCtx, j); err != nil {
		return true, errors.Wrapf(err, "job %s", j.ID)
	}
	return true, nil
}

// GetQueue returns the job queue
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}
