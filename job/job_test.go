package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tren/errors"
)

func TestDefaultName(t *testing.T) {
	assert.Equal(t, "1000", DefaultName(time.Unix(4096, 0)))
	assert.Equal(t, "0", DefaultName(time.Unix(0, 0)))
	assert.Equal(t, "65f0a3c0", DefaultName(time.Unix(0x65f0a3c0, 999)))
}

func TestCanTransition(t *testing.T) {
	legal := map[[2]Status]bool{
		{StatusWaiting, StatusProcessing}:   true,
		{StatusProcessing, StatusSucceeded}: true,
		{StatusProcessing, StatusFailed}:    true,
	}
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			assert.Equal(t, legal[[2]Status{from, to}], CanTransition(from, to), "%s → %s", from, to)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusSucceeded.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusWaiting.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.False(t, Status("cancelled").IsValid())
	assert.True(t, StatusWaiting.IsValid())
}

func TestJobTransition(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("waiting to processing stamps started_at", func(t *testing.T) {
		j := &Job{ID: "a", Status: StatusWaiting}
		require.NoError(t, j.Transition(StatusProcessing, now))
		assert.Equal(t, StatusProcessing, j.Status)
		require.NotNil(t, j.StartedAt)
		assert.Equal(t, now, *j.StartedAt)
	})

	t.Run("illegal transition leaves the job unchanged", func(t *testing.T) {
		cases := []struct{ from, to Status }{
			{StatusWaiting, StatusSucceeded},
			{StatusWaiting, StatusFailed},
			{StatusSucceeded, StatusWaiting},
			{StatusFailed, StatusProcessing},
			{StatusProcessing, StatusWaiting},
			{StatusProcessing, StatusProcessing},
		}
		for _, tc := range cases {
			j := &Job{ID: "b", Status: tc.from}
			before := *j
			err := j.Transition(tc.to, now)

			var ite *InvalidTransitionError
			require.True(t, errors.As(err, &ite), "%s → %s", tc.from, tc.to)
			assert.Equal(t, tc.from, ite.From)
			assert.Equal(t, tc.to, ite.To)
			assert.Equal(t, before, *j)
		}
	})

	t.Run("succeeded only through Succeed", func(t *testing.T) {
		j := &Job{ID: "c", Status: StatusProcessing}
		assert.Error(t, j.Transition(StatusSucceeded, now))
		assert.Nil(t, j.OutputFile)

		out := FileRef{Key: "k", Name: "doc-translated.md", MIMEType: MIMEMarkdown}
		require.NoError(t, j.Succeed(out, now))
		assert.Equal(t, StatusSucceeded, j.Status)
		assert.Equal(t, &out, j.OutputFile)

		// output is write-once
		assert.Error(t, j.Succeed(FileRef{Key: "other"}, now))
		assert.Equal(t, "k", j.OutputFile.Key)
	})

	t.Run("fail records diagnostics", func(t *testing.T) {
		j := &Job{ID: "d", Status: StatusProcessing}
		require.NoError(t, j.Fail(Failure{Kind: KindModelTransient, Message: "rate limited", Chunk: 2}, now))
		assert.Equal(t, StatusFailed, j.Status)
		assert.Equal(t, KindModelTransient, j.ErrorKind)
		assert.Equal(t, 2, j.FailedChunk)
		assert.Nil(t, j.OutputFile)

		assert.Error(t, j.Fail(Failure{Kind: KindCancelled}, now))
		assert.Equal(t, KindModelTransient, j.ErrorKind)
	})
}

func TestProgressPercentage(t *testing.T) {
	assert.Equal(t, 0.0, Progress{}.Percentage())
	assert.Equal(t, 50.0, Progress{Current: 2, Total: 4}.Percentage())
}

func TestIsAcceptedType(t *testing.T) {
	tests := []struct {
		mime string
		ok   bool
	}{
		{"text/markdown", true},
		{"text/plain", true},
		{"text/plain; charset=utf-8", true},
		{"TEXT/Markdown", true},
		{MIMEDocx, true},
		{"application/pdf", false},
		{"text/html", false},
		{"", false},
		{"not a mime", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, IsAcceptedType(tt.mime), tt.mime)
	}
}

func TestTypeForName(t *testing.T) {
	assert.Equal(t, MIMEMarkdown, TypeForName("README.MD"))
	assert.Equal(t, MIMEPlain, TypeForName("notes.txt"))
	assert.Equal(t, MIMEDocx, TypeForName("contract.docx"))
	assert.Equal(t, "", TypeForName("scan.pdf"))
	assert.Equal(t, "", TypeForName("Makefile"))
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "report-translated.md", OutputName("report.md"))
	assert.Equal(t, "notes-translated", OutputName("notes"))
	assert.Equal(t, "archive.tar-translated.gz", OutputName("dir/archive.tar.gz"))
	assert.Equal(t, ".env-translated", OutputName(".env"))
}

func TestValidationErrorMessage(t *testing.T) {
	verr := &ValidationError{}
	verr.add("source_lang", "must not be empty", nil)
	verr.add("model", "unknown model \"x\"", nil)

	assert.Equal(t, `invalid job request: source_lang: must not be empty; model: unknown model "x"`, verr.Error())
	assert.True(t, verr.Has("model"))
	assert.False(t, verr.Has("target_lang"))
	assert.Nil(t, (&ValidationError{}).orNil())
}

func TestNewIDIsTimeSortable(t *testing.T) {
	a, err := NewID()
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	b, err := NewID()
	require.NoError(t, err)

	assert.Len(t, a, 36)
	assert.Less(t, a, b)
}
