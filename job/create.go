package job

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/prompt"
)

// CreateRequest is what a caller supplies to create a job. Name and the
// prompts are optional.
type CreateRequest struct {
	Name         string  `json:"name,omitempty"`
	SourceLang   string  `json:"source_lang"`
	TargetLang   string  `json:"target_lang"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	UserPrompt   string  `json:"user_prompt,omitempty"`
	InputFile    FileRef `json:"input_file"`
}

// ApplyDefaults fills the optional fields: the name from now, the prompts
// from the built-in templates. Supplied values are kept.
func (r CreateRequest) ApplyDefaults(now time.Time) CreateRequest {
	if strings.TrimSpace(r.Name) == "" {
		r.Name = DefaultName(now)
	}
	if r.SystemPrompt == "" {
		r.SystemPrompt = prompt.DefaultSystemPrompt
	}
	if r.UserPrompt == "" {
		r.UserPrompt = prompt.DefaultUserPrompt
	}
	return r
}

// Validate checks a request whose defaults are already applied. Every
// offending field is reported in one *ValidationError. A model lookup that
// fails for a reason other than not found is returned as is.
func (r CreateRequest) Validate(ctx context.Context, models ModelLookup) error {
	verr := &ValidationError{}

	if strings.TrimSpace(r.SourceLang) == "" {
		verr.add("source_lang", "must not be empty", nil)
	}
	if strings.TrimSpace(r.TargetLang) == "" {
		verr.add("target_lang", "must not be empty", nil)
	}

	if strings.TrimSpace(r.Model) == "" {
		verr.add("model", "must not be empty", nil)
	} else if _, err := models.GetModel(ctx, r.Model); err != nil {
		if !errors.IsNotFoundError(err) {
			return errors.Wrap(err, "failed to resolve model")
		}
		verr.add("model", "unknown model "+strconv.Quote(r.Model), err)
	}

	switch {
	case r.InputFile.Key == "":
		verr.add("input_file", "missing storage key", nil)
	case !IsAcceptedType(r.InputFile.MIMEType):
		verr.add("input_file", "unsupported document type "+strconv.Quote(r.InputFile.MIMEType)+
			", accepted: "+strings.Join(AcceptedTypes, ", "), nil)
	}

	if err := prompt.Validate(r.SystemPrompt, prompt.SystemVariables...); err != nil {
		verr.add("system_prompt", err.Error(), err)
	}
	if err := prompt.Validate(r.UserPrompt, prompt.UserVariables...); err != nil {
		verr.add("user_prompt", err.Error(), err)
	}

	return verr.orNil()
}

// Service creates jobs
type Service struct {
	jobs   *Store
	models ModelLookup
	log    *zap.SugaredLogger

	// Now and NewID are replaced in tests
	Now   func() time.Time
	NewID func() (string, error)
}

// NewService creates a job service
func NewService(jobs *Store, models ModelLookup, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		jobs:   jobs,
		models: models,
		log:    log,
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  NewID,
	}
}

// Create validates req, binds defaults and persists a new waiting job.
// Nothing is persisted when validation fails.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Job, error) {
	now := s.Now()
	req = req.ApplyDefaults(now)
	if err := req.Validate(ctx, s.models); err != nil {
		return nil, err
	}

	id, err := s.NewID()
	if err != nil {
		return nil, err
	}

	j := &Job{
		ID:           id,
		Name:         req.Name,
		SourceLang:   req.SourceLang,
		TargetLang:   req.TargetLang,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		InputFile:    req.InputFile,
		Status:       StatusWaiting,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.jobs.Create(ctx, j); err != nil {
		return nil, err
	}

	s.log.Infow("Job created",
		"job_id", j.ID,
		"name", j.Name,
		"model", j.Model,
		"source_lang", j.SourceLang,
		"target_lang", j.TargetLang)
	return j, nil
}
