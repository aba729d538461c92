package job

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tren/errors"
	trentest "github.com/teranos/tren/internal/testing"
)

func seedModel(t *testing.T, db *sql.DB) *Model {
	t.Helper()
	m := &Model{ID: "gpt-oss", Name: "GPT OSS 20B", Params: `{"temperature":0.2}`}
	require.NoError(t, NewModelStore(db).Put(context.Background(), m))
	return m
}

func newWaitingJob(id string, created time.Time) *Job {
	return &Job{
		ID:           id,
		Name:         DefaultName(created),
		SourceLang:   "English",
		TargetLang:   "Dutch",
		Model:        "gpt-oss",
		SystemPrompt: "sys",
		UserPrompt:   "{{ source_text }}",
		InputFile:    FileRef{Key: "in/" + id, Name: "doc.md", MIMEType: MIMEMarkdown},
		Status:       StatusWaiting,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	db := trentest.CreateMigratedTestDB(t)
	seedModel(t, db)
	store := NewStore(db)
	ctx := context.Background()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Create(ctx, newWaitingJob("job-1", created)))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, StatusWaiting, got.Status)
	assert.Equal(t, "English", got.SourceLang)
	assert.Equal(t, FileRef{Key: "in/job-1", Name: "doc.md", MIMEType: MIMEMarkdown}, got.InputFile)
	assert.Nil(t, got.OutputFile)
	assert.Nil(t, got.StartedAt)
	assert.True(t, created.Equal(got.CreatedAt))
}

func TestStoreGetNotFound(t *testing.T) {
	store := NewStore(trentest.CreateMigratedTestDB(t))

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
	assert.Contains(t, errors.FlattenDetails(err), "Job ID: missing")
}

func TestStoreCreateRejectsUnknownModel(t *testing.T) {
	store := NewStore(trentest.CreateMigratedTestDB(t))

	err := store.Create(context.Background(), newWaitingJob("job-1", time.Now().UTC()))
	assert.Error(t, err)
}

func TestStoreList(t *testing.T) {
	db := trentest.CreateMigratedTestDB(t)
	seedModel(t, db)
	store := NewStore(db)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, newWaitingJob(id, base.Add(time.Duration(i)*time.Minute))))
	}
	_, err := store.Claim(ctx, "a")
	require.NoError(t, err)

	all, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	waiting, err := store.List(ctx, ListOptions{Status: StatusWaiting})
	require.NoError(t, err)
	assert.Len(t, waiting, 2)

	limited, err := store.List(ctx, ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].ID)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusWaiting: 2, StatusProcessing: 1, StatusSucceeded: 0, StatusFailed: 0}, counts)
}

func TestStoreLifecycle(t *testing.T) {
	db := trentest.CreateMigratedTestDB(t)
	seedModel(t, db)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newWaitingJob("job-1", time.Now().UTC())))

	j, err := store.Claim(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, j.Status)
	require.NotNil(t, j.StartedAt)

	require.NoError(t, store.UpdateProgress(ctx, j, Progress{Current: 1, Total: 2}))
	out := FileRef{Key: "out/job-1", Name: "doc-translated.md", MIMEType: MIMEMarkdown}
	require.NoError(t, store.Succeed(ctx, j, out))
	assert.Equal(t, StatusSucceeded, j.Status)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, &out, got.OutputFile)
	assert.Equal(t, Progress{Current: 1, Total: 2}, got.Progress)
	assert.NotNil(t, got.CompletedAt)

	// terminal: nothing moves it again
	err = store.Fail(ctx, got, Failure{Kind: KindCancelled, Message: "cancelled"})
	var ite *InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, StatusSucceeded, ite.From)

	_, err = store.Claim(ctx, "job-1")
	assert.True(t, errors.As(err, &ite))
}

func TestStoreSucceedRejectsUnacceptedOutput(t *testing.T) {
	db := trentest.CreateMigratedTestDB(t)
	seedModel(t, db)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newWaitingJob("job-1", time.Now().UTC())))
	j, err := store.Claim(ctx, "job-1")
	require.NoError(t, err)

	err = store.Succeed(ctx, j, FileRef{Key: "out", Name: "doc.pdf", MIMEType: "application/pdf"})
	assert.True(t, errors.IsInvalidRequestError(err))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Nil(t, got.OutputFile)
}

func TestStoreFailKeepsChunks(t *testing.T) {
	db := trentest.CreateMigratedTestDB(t)
	seedModel(t, db)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newWaitingJob("job-1", time.Now().UTC())))
	j, err := store.Claim(ctx, "job-1")
	require.NoError(t, err)

	require.NoError(t, store.SaveChunk(ctx, ChunkResult{JobID: "job-1", Position: 1, Source: "Hallo", Translation: "Hello", Attempts: 1}))
	require.NoError(t, store.Fail(ctx, j, Failure{Kind: KindModelTransient, Message: "503", Chunk: 2}))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, KindModelTransient, got.ErrorKind)
	assert.Equal(t, "503", got.Error)
	assert.Equal(t, 2, got.FailedChunk)
	assert.Nil(t, got.OutputFile)

	chunks, err := store.Chunks(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Hello", chunks[0].Translation)
}

func TestStoreSaveChunkReplaces(t *testing.T) {
	db := trentest.CreateMigratedTestDB(t)
	seedModel(t, db)
	store := NewStore(db)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newWaitingJob("job-1", time.Now().UTC())))

	require.NoError(t, store.SaveChunk(ctx, ChunkResult{JobID: "job-1", Position: 2, Source: "b", Translation: "B1", Attempts: 1}))
	require.NoError(t, store.SaveChunk(ctx, ChunkResult{JobID: "job-1", Position: 1, Source: "a", Translation: "A", Attempts: 1}))
	require.NoError(t, store.SaveChunk(ctx, ChunkResult{JobID: "job-1", Position: 2, Source: "b", Translation: "B2", Attempts: 3}))
	assert.Error(t, store.SaveChunk(ctx, ChunkResult{JobID: "job-1", Position: 0}))

	chunks, err := store.Chunks(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].Position)
	assert.Equal(t, "B2", chunks[1].Translation)
	assert.Equal(t, 3, chunks[1].Attempts)
}

func TestStoreTransitionRefusesSucceeded(t *testing.T) {
	store := NewStore(trentest.CreateMigratedTestDB(t))
	err := store.Transition(context.Background(), "any", StatusProcessing, StatusSucceeded)
	var ite *InvalidTransitionError
	assert.True(t, errors.As(err, &ite))
}

func TestStoreTransitionNotFound(t *testing.T) {
	store := NewStore(trentest.CreateMigratedTestDB(t))
	err := store.Transition(context.Background(), "missing", StatusWaiting, StatusProcessing)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreClaimNextOldestFirst(t *testing.T) {
	db := trentest.CreateMigratedTestDB(t)
	seedModel(t, db)
	store := NewStore(db)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, newWaitingJob("newer", base.Add(time.Hour))))
	require.NoError(t, store.Create(ctx, newWaitingJob("older", base)))

	j, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, "older", j.ID)
	assert.Equal(t, StatusProcessing, j.Status)

	j, err = store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, "newer", j.ID)

	j, err = store.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestStoreClaimHasOneWinner(t *testing.T) {
	db := trentest.CreateFileTestDB(t)
	seedModel(t, db)
	store := NewStore(db)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newWaitingJob("contested", time.Now().UTC())))

	const claimants = 8
	var wg sync.WaitGroup
	results := make(chan error, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Claim(ctx, "contested")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		var ite *InvalidTransitionError
		require.True(t, errors.As(err, &ite), "unexpected error: %v", err)
		assert.Equal(t, StatusProcessing, ite.From)
	}
	assert.Equal(t, 1, wins)
}

func TestStoreRecoverInterrupted(t *testing.T) {
	db := trentest.CreateMigratedTestDB(t)
	seedModel(t, db)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newWaitingJob("running", time.Now().UTC())))
	require.NoError(t, store.Create(ctx, newWaitingJob("queued", time.Now().UTC())))
	_, err := store.Claim(ctx, "running")
	require.NoError(t, err)

	ids, err := store.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"running"}, ids)

	got, err := store.Get(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, KindInterrupted, got.ErrorKind)

	got, err = store.Get(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)
}

func TestStoreWrapsDatabaseErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db)

	mock.ExpectExec("UPDATE jobs SET status").
		WillReturnError(sql.ErrConnDone)

	err = store.Transition(context.Background(), "job-1", StatusWaiting, StatusProcessing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	assert.Contains(t, err.Error(), "failed to update job job-1")
	assert.Contains(t, errors.FlattenDetails(err), "Job ID: job-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreListQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT .* FROM jobs WHERE status = \\? ORDER BY created_at DESC, id DESC LIMIT \\?").
		WithArgs(StatusFailed, 5).
		WillReturnError(sql.ErrConnDone)

	_, err = NewStore(db).List(context.Background(), ListOptions{Status: StatusFailed, Limit: 5})
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}
