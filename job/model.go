package job

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/teranos/tren/errors"
)

// MaxModelNameLength is the longest model name, in characters
const MaxModelNameLength = 32

// Model is a translation model a job can select. Params is opaque here and
// handed to the translator unchanged.
type Model struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Params    string    `json:"params"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the model's id and name
func (m Model) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(m.ID) == "" {
		verr.add("id", "must not be empty", nil)
	}
	if n := utf8.RuneCountInString(m.Name); n > MaxModelNameLength {
		verr.add("name", "must be at most 32 characters, got "+strconv.Itoa(n), nil)
	}
	return verr.orNil()
}

// ModelLookup resolves a model id
type ModelLookup interface {
	GetModel(ctx context.Context, id string) (*Model, error)
}

// ModelStore persists models
type ModelStore struct {
	db *sql.DB
}

// NewModelStore creates a new model store
func NewModelStore(db *sql.DB) *ModelStore {
	return &ModelStore{db: db}
}

// Put creates or replaces a model
func (s *ModelStore) Put(ctx context.Context, m *Model) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO models (id, name, params, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, params = excluded.params
	`, m.ID, m.Name, m.Params, m.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to save model %s", m.ID)
	}
	return nil
}

// GetModel retrieves a model by id
func (s *ModelStore) GetModel(ctx context.Context, id string) (*Model, error) {
	var m Model
	err := s.db.QueryRowContext(ctx, `SELECT id, name, params, created_at FROM models WHERE id = ?`, id).
		Scan(&m.ID, &m.Name, &m.Params, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.WithDetail(errors.NewNotFoundError("model not found: %s", id), "Model ID: "+id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get model %s", id)
	}
	return &m, nil
}

// List returns every model ordered by id
func (s *ModelStore) List(ctx context.Context) ([]*Model, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, params, created_at FROM models ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list models")
	}
	defer rows.Close()

	var models []*Model
	for rows.Next() {
		var m Model
		if err := rows.Scan(&m.ID, &m.Name, &m.Params, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan model")
		}
		models = append(models, &m)
	}
	return models, rows.Err()
}
