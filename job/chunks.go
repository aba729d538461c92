package job

import (
	"context"
	"time"

	"github.com/teranos/tren/errors"
)

// ChunkResult is the stored outcome of one translated chunk. Results are
// kept when a job fails so partial work can be inspected.
type ChunkResult struct {
	JobID       string    `json:"job_id"`
	Position    int       `json:"position"` // 1-based
	Source      string    `json:"source"`
	Translation string    `json:"translation"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
}

// SaveChunk stores a chunk result, replacing any earlier result at the same
// position
func (s *Store) SaveChunk(ctx context.Context, c ChunkResult) error {
	if c.Position < 1 {
		return errors.Newf("chunk position must be 1-based, got %d", c.Position)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_chunks (job_id, position, source, translation, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, position) DO UPDATE SET
			source = excluded.source,
			translation = excluded.translation,
			attempts = excluded.attempts,
			created_at = excluded.created_at
	`, c.JobID, c.Position, c.Source, c.Translation, c.Attempts, c.CreatedAt)
	if err != nil {
		return errors.WithDetail(
			errors.Wrapf(err, "failed to save chunk %d of job %s", c.Position, c.JobID),
			"Job ID: "+c.JobID)
	}
	return nil
}

// Chunks returns a job's stored chunk results in position order
func (s *Store) Chunks(ctx context.Context, jobID string) ([]ChunkResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, position, source, translation, attempts, created_at
		FROM job_chunks WHERE job_id = ? ORDER BY position
	`, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list chunks of job %s", jobID)
	}
	defer rows.Close()

	var chunks []ChunkResult
	for rows.Next() {
		var c ChunkResult
		if err := rows.Scan(&c.JobID, &c.Position, &c.Source, &c.Translation, &c.Attempts, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan chunk")
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
