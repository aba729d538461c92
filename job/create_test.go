package job

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tren/errors"
	trentest "github.com/teranos/tren/internal/testing"
	"github.com/teranos/tren/prompt"
)

func newTestService(t *testing.T) (*Service, *Store) {
	t.Helper()
	db := trentest.CreateMigratedTestDB(t)
	seedModel(t, db)
	store := NewStore(db)
	svc := NewService(store, NewModelStore(db), nil)
	svc.Now = func() time.Time { return time.Unix(4096, 0).UTC() }
	return svc, store
}

func validRequest() CreateRequest {
	return CreateRequest{
		SourceLang: "German",
		TargetLang: "English",
		Model:      "gpt-oss",
		InputFile:  FileRef{Key: "uploads/1", Name: "brief.md", MIMEType: "text/markdown; charset=utf-8"},
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	j, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	assert.Equal(t, "1000", j.Name)
	assert.Equal(t, prompt.DefaultSystemPrompt, j.SystemPrompt)
	assert.Equal(t, prompt.DefaultUserPrompt, j.UserPrompt)
	assert.Equal(t, StatusWaiting, j.Status)
	assert.Equal(t, time.Unix(4096, 0).UTC(), j.CreatedAt)
	assert.Nil(t, j.OutputFile)
	assert.Len(t, j.ID, 36)

	stored, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000", stored.Name)
	assert.Equal(t, StatusWaiting, stored.Status)
}

func TestCreateKeepsSuppliedValues(t *testing.T) {
	svc, _ := newTestService(t)

	req := validRequest()
	req.Name = "quarterly report"
	req.SystemPrompt = "Translate {{ source_language }} to {{ target_language }}."
	req.UserPrompt = "{{ source_text }}"

	j, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "quarterly report", j.Name)
	assert.Equal(t, req.SystemPrompt, j.SystemPrompt)
	assert.Equal(t, req.UserPrompt, j.UserPrompt)
}

func TestCreateIDsAreUnique(t *testing.T) {
	svc, _ := newTestService(t)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		j, err := svc.Create(context.Background(), validRequest())
		require.NoError(t, err)
		assert.False(t, seen[j.ID])
		seen[j.ID] = true
	}
}

func TestCreateRejectsPDFWithoutPersisting(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	req := validRequest()
	req.InputFile = FileRef{Key: "uploads/2", Name: "scan.pdf", MIMEType: "application/pdf"}

	j, err := svc.Create(ctx, req)
	assert.Nil(t, j)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has("input_file"))
	assert.Len(t, verr.Fields, 1)

	jobs, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCreateReportsEveryField(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	req := CreateRequest{
		SourceLang: "  ",
		Model:      "no-such-model",
		UserPrompt: "{{ source_txt }}",
		InputFile:  FileRef{Key: "", Name: "x.md", MIMEType: MIMEMarkdown},
	}
	_, err := svc.Create(ctx, req)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	for _, field := range []string{"source_lang", "target_lang", "model", "input_file", "user_prompt"} {
		assert.True(t, verr.Has(field), field)
	}
	assert.False(t, verr.Has("system_prompt"))

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[StatusWaiting])
}

func TestCreateSurfacesTemplateErrors(t *testing.T) {
	svc, _ := newTestService(t)

	req := validRequest()
	req.SystemPrompt = "{% if source_language %}unterminated"
	_, err := svc.Create(context.Background(), req)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "system_prompt", verr.Fields[0].Field)

	var terr *prompt.TemplateError
	require.True(t, errors.As(verr.Fields[0].Err, &terr))
	assert.Equal(t, prompt.KindSyntax, terr.Kind)
}

func TestCreateUserPromptCannotReadSystemVariables(t *testing.T) {
	svc, _ := newTestService(t)

	req := validRequest()
	req.UserPrompt = "{{ target_language }}: {{ source_text }}"
	_, err := svc.Create(context.Background(), req)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has("user_prompt"))
}

func TestApplyDefaultsIsSeparateFromValidation(t *testing.T) {
	req := CreateRequest{Name: "kept"}.ApplyDefaults(time.Unix(4096, 0))
	assert.Equal(t, "kept", req.Name)
	assert.Equal(t, prompt.DefaultUserPrompt, req.UserPrompt)

	req = CreateRequest{}.ApplyDefaults(time.Unix(255, 0))
	assert.Equal(t, "ff", req.Name)
}

func TestModelValidate(t *testing.T) {
	assert.NoError(t, Model{ID: "m", Name: "exactly thirty-two characters!!!"}.Validate())
	assert.Error(t, Model{ID: "m", Name: strings.Repeat("x", 33)}.Validate())
	assert.Error(t, Model{ID: " "}.Validate())
	// characters, not bytes
	assert.NoError(t, Model{ID: "m", Name: "ééééééééééééééééééééééééééééééé"}.Validate())
}

func TestModelStore(t *testing.T) {
	db := trentest.CreateMigratedTestDB(t)
	store := NewModelStore(db)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Model{ID: "b", Name: "B"}))
	require.NoError(t, store.Put(ctx, &Model{ID: "a", Name: "A", Params: `{"model":"x"}`}))
	require.NoError(t, store.Put(ctx, &Model{ID: "b", Name: "B2"}))

	m, err := store.GetModel(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "B2", m.Name)

	models, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "a", models[0].ID)
	assert.Equal(t, `{"model":"x"}`, models[0].Params)

	_, err = store.GetModel(ctx, "zzz")
	assert.True(t, errors.IsNotFoundError(err))
}
