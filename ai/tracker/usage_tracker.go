// Package tracker records every model call made while translating, one row
// per attempt, so token spend and failure rates can be inspected per job and
// per model.
package tracker

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/tren/errors"
)

// ModelUsage is one model invocation
type ModelUsage struct {
	ID               int64     `json:"id"`
	JobID            string    `json:"job_id"`
	Chunk            int       `json:"chunk"`
	Attempt          int       `json:"attempt"`
	ModelID          string    `json:"model_id"`
	BackendModel     string    `json:"backend_model"`
	RequestTimestamp time.Time `json:"request_timestamp"`
	DurationMS       int64     `json:"duration_ms"`
	PromptTokens     *int      `json:"prompt_tokens,omitempty"`
	CompletionTokens *int      `json:"completion_tokens,omitempty"`
	TotalTokens      *int      `json:"total_tokens,omitempty"`
	Success          bool      `json:"success"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
}

// UsageTracker writes and aggregates model_usage rows
type UsageTracker struct {
	db *sql.DB
}

// NewUsageTracker creates a tracker over db
func NewUsageTracker(db *sql.DB) *UsageTracker {
	return &UsageTracker{db: db}
}

// TrackUsage records one call
func (t *UsageTracker) TrackUsage(ctx context.Context, u *ModelUsage) error {
	res, err := t.db.ExecContext(ctx, `
		INSERT INTO model_usage (
			job_id, chunk, attempt, model_id, backend_model,
			request_timestamp, duration_ms, prompt_tokens, completion_tokens, total_tokens,
			success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.JobID, u.Chunk, u.Attempt, u.ModelID, u.BackendModel,
		u.RequestTimestamp.UTC(), u.DurationMS, u.PromptTokens, u.CompletionTokens, u.TotalTokens,
		u.Success, u.ErrorMessage,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record usage for job %s chunk %d", u.JobID, u.Chunk)
	}
	if id, err := res.LastInsertId(); err == nil {
		u.ID = id
	}
	return nil
}

// UsageStats aggregates calls since a point in time
type UsageStats struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
	TotalTokens        int     `json:"total_tokens"`
	UniqueModels       int     `json:"unique_models"`
}

// GetUsageStats returns totals for calls made at or after since
func (t *UsageTracker) GetUsageStats(ctx context.Context, since time.Time) (*UsageStats, error) {
	var stats UsageStats
	err := t.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN success = 1 THEN 1 END),
			COALESCE(SUM(COALESCE(total_tokens, 0)), 0),
			COUNT(DISTINCT model_id)
		FROM model_usage
		WHERE request_timestamp >= ?`, since.UTC()).Scan(
		&stats.TotalRequests, &stats.SuccessfulRequests, &stats.TotalTokens, &stats.UniqueModels,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage stats")
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}
	return &stats, nil
}

// ModelBreakdown is usage for one model
type ModelBreakdown struct {
	ModelID       string  `json:"model_id"`
	BackendModel  string  `json:"backend_model"`
	RequestCount  int     `json:"request_count"`
	FailedCount   int     `json:"failed_count"`
	TotalTokens   int     `json:"total_tokens"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// GetModelBreakdown groups calls since a point in time by model, busiest first
func (t *UsageTracker) GetModelBreakdown(ctx context.Context, since time.Time) ([]ModelBreakdown, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT
			model_id,
			backend_model,
			COUNT(*) AS request_count,
			COUNT(CASE WHEN success = 0 THEN 1 END),
			COALESCE(SUM(COALESCE(total_tokens, 0)), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM model_usage
		WHERE request_timestamp >= ?
		GROUP BY model_id, backend_model
		ORDER BY request_count DESC, model_id`, since.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to query model breakdown")
	}
	defer rows.Close()

	var out []ModelBreakdown
	for rows.Next() {
		var mb ModelBreakdown
		if err := rows.Scan(&mb.ModelID, &mb.BackendModel, &mb.RequestCount, &mb.FailedCount,
			&mb.TotalTokens, &mb.AvgDurationMS); err != nil {
			return nil, errors.Wrap(err, "failed to scan model breakdown")
		}
		out = append(out, mb)
	}
	return out, rows.Err()
}

// JobUsage returns the calls made for one job in chunk and attempt order
func (t *UsageTracker) JobUsage(ctx context.Context, jobID string) ([]ModelUsage, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, job_id, chunk, attempt, model_id, backend_model, request_timestamp,
			duration_ms, prompt_tokens, completion_tokens, total_tokens, success, error_message
		FROM model_usage
		WHERE job_id = ?
		ORDER BY chunk, attempt, id`, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query usage for job %s", jobID)
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var (
			u                    ModelUsage
			prompt, compl, total sql.NullInt64
			errMsg               sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.JobID, &u.Chunk, &u.Attempt, &u.ModelID, &u.BackendModel,
			&u.RequestTimestamp, &u.DurationMS, &prompt, &compl, &total, &u.Success, &errMsg); err != nil {
			return nil, errors.Wrap(err, "failed to scan usage")
		}
		u.PromptTokens = nullInt(prompt)
		u.CompletionTokens = nullInt(compl)
		u.TotalTokens = nullInt(total)
		if errMsg.Valid {
			u.ErrorMessage = &errMsg.String
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
