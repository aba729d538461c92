// Package async runs translation jobs in the background. The Queue accepts
// new jobs and fans out job updates to subscribers; the WorkerPool claims
// waiting jobs and hands them to the orchestrator.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/job"
)

const (
	// MaxJobsLimit caps how many jobs a single list returns
	MaxJobsLimit = 10000
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Queue is the submit and observe side of the job store
type Queue struct {
	jobs        *job.Store
	service     *job.Service
	mu          sync.RWMutex
	subscribers []chan *job.Job // Channels to notify of job updates
}

// NewQueue creates a new job queue
func NewQueue(jobs *job.Store, service *job.Service) *Queue {
	return &Queue{
		jobs:        jobs,
		service:     service,
		subscribers: make([]chan *job.Job, 0),
	}
}

// Store returns the underlying job store
func (q *Queue) Store() *job.Store {
	return q.jobs
}

// Submit validates and persists a new waiting job. Validation failures are
// returned unwrapped so callers can match *job.ValidationError.
func (q *Queue) Submit(ctx context.Context, req job.CreateRequest) (*job.Job, error) {
	j, err := q.service.Create(ctx, req)
	if err != nil {
		var verr *job.ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Model: %s", req.Model))
		err = errors.WithDetail(err, fmt.Sprintf("Input: %s", req.InputFile.Name))
		return nil, err
	}

	q.Publish(j)
	return j, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, id string) (*job.Job, error) {
	return q.jobs.Get(ctx, id)
}

// ListJobs returns jobs newest first, optionally filtered by status
func (q *Queue) ListJobs(ctx context.Context, status job.Status, limit int) ([]*job.Job, error) {
	if limit <= 0 || limit > MaxJobsLimit {
		limit = MaxJobsLimit
	}
	return q.jobs.List(ctx, job.ListOptions{Status: status, Limit: limit})
}

// CancelWaiting fails a job that no worker has claimed yet. It claims the
// job first so the cancellation goes through the legal transitions.
func (q *Queue) CancelWaiting(ctx context.Context, id, reason string) (*job.Job, error) {
	j, err := q.jobs.Claim(ctx, id)
	if err != nil {
		return nil, err
	}
	q.Publish(j)

	if err := q.jobs.Fail(ctx, j, job.Failure{Kind: job.KindCancelled, Message: reason}); err != nil {
		err = errors.Wrap(err, "failed to cancel job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
		return nil, err
	}
	q.Publish(j)
	return j, nil
}

// Subscribe returns a channel that receives job updates.
// The caller is responsible for calling Unsubscribe when done.
// The returned channel is buffered to prevent blocking the notifier.
func (q *Queue) Subscribe() chan *job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *job.Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed by this method - callers should close it themselves
// after unsubscribing if needed. This prevents double-close panics.
func (q *Queue) Unsubscribe(ch chan *job.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends a copy of j to all subscribers.
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (q *Queue) Publish(j *job.Job) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, ch := range q.subscribers {
		cp := *j
		select {
		case ch <- &cp:
		default:
			// Channel full, skip
		}
	}
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Waiting    int `json:"waiting"`
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	counts, err := q.jobs.Counts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queue stats")
	}

	stats := &QueueStats{
		Waiting:    counts[job.StatusWaiting],
		Processing: counts[job.StatusProcessing],
		Succeeded:  counts[job.StatusSucceeded],
		Failed:     counts[job.StatusFailed],
	}
	stats.Total = stats.Waiting + stats.Processing + stats.Succeeded + stats.Failed
	return stats, nil
}
