package job

import (
	"database/sql"
)

// jobSelectColumns is the column list every job SELECT uses, in the order
// scanTargets expects
const jobSelectColumns = `id, name, source_lang, target_lang, model_id, system_prompt, user_prompt,
	input_key, input_name, input_mime, output_key, output_name, output_mime,
	status, progress_current, progress_total, error, error_kind, failed_chunk,
	created_at, started_at, completed_at, updated_at`

// scanArgs holds the nullable columns of a job row
type scanArgs struct {
	OutputKey   sql.NullString
	OutputName  sql.NullString
	OutputMIME  sql.NullString
	ErrorMsg    sql.NullString
	ErrorKind   sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

func scanTargets(j *Job, args *scanArgs) []interface{} {
	return []interface{}{
		&j.ID,
		&j.Name,
		&j.SourceLang,
		&j.TargetLang,
		&j.Model,
		&j.SystemPrompt,
		&j.UserPrompt,
		&j.InputFile.Key,
		&j.InputFile.Name,
		&j.InputFile.MIMEType,
		&args.OutputKey,
		&args.OutputName,
		&args.OutputMIME,
		&j.Status,
		&j.Progress.Current,
		&j.Progress.Total,
		&args.ErrorMsg,
		&args.ErrorKind,
		&j.FailedChunk,
		&j.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&j.UpdatedAt,
	}
}

func (args *scanArgs) apply(j *Job) {
	if args.OutputKey.Valid {
		j.OutputFile = &FileRef{
			Key:      args.OutputKey.String,
			Name:     args.OutputName.String,
			MIMEType: args.OutputMIME.String,
		}
	}
	if args.ErrorMsg.Valid {
		j.Error = args.ErrorMsg.String
	}
	if args.ErrorKind.Valid {
		j.ErrorKind = ErrorKind(args.ErrorKind.String)
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		j.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		j.CompletedAt = &t
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var args scanArgs
	if err := row.Scan(scanTargets(&j, &args)...); err != nil {
		return nil, err
	}
	args.apply(&j)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
