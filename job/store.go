package job

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/tren/errors"
)

// Store persists jobs and their chunk results in SQLite. Every status
// change is a compare-and-set on the current status, so concurrent claimants
// of the same job see exactly one winner.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Create inserts a new job
func (s *Store) Create(ctx context.Context, j *Job) error {
	var outKey, outName, outMIME sql.NullString
	if j.OutputFile != nil {
		outKey = nullString(j.OutputFile.Key)
		outName = nullString(j.OutputFile.Name)
		outMIME = nullString(j.OutputFile.MIMEType)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, name, source_lang, target_lang, model_id, system_prompt, user_prompt,
			input_key, input_name, input_mime, output_key, output_name, output_mime,
			status, progress_current, progress_total, error, error_kind, failed_chunk,
			created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		j.ID, j.Name, j.SourceLang, j.TargetLang, j.Model, j.SystemPrompt, j.UserPrompt,
		j.InputFile.Key, j.InputFile.Name, j.InputFile.MIMEType, outKey, outName, outMIME,
		j.Status, j.Progress.Current, j.Progress.Total, nullString(j.Error), nullString(string(j.ErrorKind)), j.FailedChunk,
		j.CreatedAt, j.StartedAt, j.CompletedAt, j.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", j.ID)
	}
	return nil
}

// Get retrieves a job by ID
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobSelectColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.WithDetail(errors.NewNotFoundError("job not found: %s", id), "Job ID: "+id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return j, nil
}

// ListOptions filters List. A zero Status lists every status; a zero Limit
// means no limit.
type ListOptions struct {
	Status Status
	Limit  int
}

// List returns jobs newest first
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs`
	var args []interface{}
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, opts.Status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan jobs")
	}
	return jobs, nil
}

// Counts returns the number of jobs per status
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[Status]int, len(AllStatuses))
	for _, st := range AllStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job counts")
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// Transition moves job id from one status to another if, and only if, it is
// still in from. It refuses succeeded, which is only reachable through
// Succeed. Losing the race returns an *InvalidTransitionError carrying the
// status the job actually had.
func (s *Store) Transition(ctx context.Context, id string, from, to Status) error {
	if !CanTransition(from, to) || to == StatusSucceeded {
		return &InvalidTransitionError{JobID: id, From: from, To: to}
	}

	now := s.now()
	query := `UPDATE jobs SET status = ?, updated_at = ?`
	args := []interface{}{to, now}
	switch to {
	case StatusProcessing:
		query += `, started_at = ?`
		args = append(args, now)
	case StatusFailed:
		query += `, completed_at = ?`
		args = append(args, now)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, from)

	return s.execCAS(ctx, id, to, query, args...)
}

// Claim moves a waiting job to processing and returns it. Only one of any
// number of concurrent claimants succeeds; the others get an
// *InvalidTransitionError.
func (s *Store) Claim(ctx context.Context, id string) (*Job, error) {
	if err := s.Transition(ctx, id, StatusWaiting, StatusProcessing); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// ClaimNext claims the oldest waiting job. It returns nil, nil when no job
// is waiting.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	now := s.now()
	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs WHERE status = ? ORDER BY created_at, id LIMIT 1
		) AND status = ?
		RETURNING id
	`, StatusProcessing, now, now, StatusWaiting, StatusWaiting).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim next job")
	}
	return s.Get(ctx, id)
}

// UpdateProgress records progress on a processing job
func (s *Store) UpdateProgress(ctx context.Context, j *Job, p Progress) error {
	now := s.now()
	err := s.execCAS(ctx, j.ID, StatusProcessing, `
		UPDATE jobs SET progress_current = ?, progress_total = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, p.Current, p.Total, now, j.ID, StatusProcessing)
	if err != nil {
		return err
	}
	j.Progress = p
	j.UpdatedAt = now
	return nil
}

// Succeed sets the output file and moves a processing job to succeeded in
// one statement. j is updated on success.
func (s *Store) Succeed(ctx context.Context, j *Job, out FileRef) error {
	if !IsAcceptedType(out.MIMEType) {
		return errors.Wrapf(errors.ErrInvalidRequest, "output type %q is not an accepted document type", out.MIMEType)
	}
	now := s.now()
	err := s.execCAS(ctx, j.ID, StatusSucceeded, `
		UPDATE jobs SET status = ?, output_key = ?, output_name = ?, output_mime = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND output_key IS NULL
	`, StatusSucceeded, out.Key, out.Name, out.MIMEType, now, now, j.ID, StatusProcessing)
	if err != nil {
		return err
	}
	// the row was processing when the update matched
	j.Status = StatusProcessing
	return j.Succeed(out, now)
}

// Fail moves a processing job to failed and records the failure. j is
// updated on success.
func (s *Store) Fail(ctx context.Context, j *Job, f Failure) error {
	now := s.now()
	err := s.execCAS(ctx, j.ID, StatusFailed, `
		UPDATE jobs SET status = ?, error = ?, error_kind = ?, failed_chunk = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusFailed, f.Message, string(f.Kind), f.Chunk, now, now, j.ID, StatusProcessing)
	if err != nil {
		return err
	}
	j.Status = StatusProcessing
	return j.Fail(f, now)
}

// RecoverInterrupted fails every job left processing by a previous process
// and returns their IDs
func (s *Store) RecoverInterrupted(ctx context.Context) ([]string, error) {
	now := s.now()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, error_kind = ?, completed_at = ?, updated_at = ?
		WHERE status = ?
		RETURNING id
	`, StatusFailed, "interrupted: process stopped while the job was running", string(KindInterrupted), now, now, StatusProcessing)
	if err != nil {
		return nil, errors.Wrap(err, "failed to recover interrupted jobs")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan recovered job id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// execCAS runs a status-guarded UPDATE. When no row matched it reports
// either not found or an *InvalidTransitionError with the job's actual
// status.
func (s *Store) execCAS(ctx context.Context, id string, to Status, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.WithDetail(errors.Wrapf(err, "failed to update job %s", id), "Job ID: "+id)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "failed to get rows affected for job %s", id)
	}
	if n > 0 {
		return nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return &InvalidTransitionError{JobID: id, From: current.Status, To: to}
}
