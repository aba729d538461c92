package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tren/am"
	"github.com/teranos/tren/auth"
	"github.com/teranos/tren/display"
	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/internal/httpclient"
	"github.com/teranos/tren/job"
	"github.com/teranos/tren/logger"
	"github.com/teranos/tren/prompt"
	"github.com/teranos/tren/pulse/async"
	"github.com/teranos/tren/server"
	"github.com/teranos/tren/storage"
	"github.com/teranos/tren/sym"
	"github.com/teranos/tren/translate"
)

// JobCmd represents the job command
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: sym.IX + " Submit and follow translation jobs",
	Long: sym.IX + ` job — translation jobs

Jobs are stored in the database and picked up by a running Pulse daemon
(tren pulse start). The input can be a local path or an http(s) URL.

Examples:
  tren job submit report.md --from English --to German --model gpt
  tren job submit https://example.com/notes.txt --from en --to fr --model gpt --watch
  tren job ls --status failed
  tren job status <id>
  tren job watch <id>
  tren job cancel <id>
  tren job output <id> -o report.de.md`,
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit <path-or-url>",
	Short: "Submit a document for translation",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobSubmit,
}

var jobLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobLs,
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStatus,
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a waiting or processing job",
	Long: `Cancel a job. A waiting job is failed directly in the database. A
processing job belongs to a running daemon, so the request goes to its
HTTP API (--server).`,
	Args: cobra.ExactArgs(1),
	RunE: runJobCancel,
}

var jobWatchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobWatch,
}

var jobOutputCmd = &cobra.Command{
	Use:   "output <job-id>",
	Short: "Save the translated document of a succeeded job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobOutput,
}

type submitOptions struct {
	name         string
	sourceLang   string
	targetLang   string
	model        string
	mimeType     string
	systemPrompt string
	userPrompt   string
	watch        bool
}

var (
	submitOpts     submitOptions
	lsStatusFlag   string
	lsLimitFlag    int
	watchInterval  time.Duration
	cancelServer   string
	outputPathFlag string
)

func init() {
	f := jobSubmitCmd.Flags()
	f.StringVar(&submitOpts.name, "name", "", "Job name (default: creation time)")
	f.StringVar(&submitOpts.sourceLang, "from", "", "Source language")
	f.StringVar(&submitOpts.targetLang, "to", "", "Target language")
	f.StringVar(&submitOpts.model, "model", "", "Model id (see tren model ls)")
	f.StringVar(&submitOpts.mimeType, "type", "", "Document type when the extension does not tell (e.g. text/markdown)")
	f.StringVar(&submitOpts.systemPrompt, "system-prompt", "", "System prompt file (template, optional YAML frontmatter)")
	f.StringVar(&submitOpts.userPrompt, "user-prompt", "", "User prompt file (template, optional YAML frontmatter)")
	f.BoolVarP(&submitOpts.watch, "watch", "w", false, "Follow the job after submitting")

	jobLsCmd.Flags().StringVar(&lsStatusFlag, "status", "", "Filter by status (waiting, processing, succeeded, failed)")
	jobLsCmd.Flags().IntVar(&lsLimitFlag, "limit", 20, "Maximum number of jobs to display")

	jobWatchCmd.Flags().DurationVar(&watchInterval, "interval", 500*time.Millisecond, "Polling interval")
	jobSubmitCmd.Flags().DurationVar(&watchInterval, "interval", 500*time.Millisecond, "Polling interval for --watch")

	jobCancelCmd.Flags().StringVar(&cancelServer, "server", "", "Daemon API base URL (default http://127.0.0.1:<server.port>)")

	jobOutputCmd.Flags().StringVarP(&outputPathFlag, "output", "o", "", "Destination file (default: output name in the working directory)")

	JobCmd.AddCommand(jobSubmitCmd)
	JobCmd.AddCommand(jobLsCmd)
	JobCmd.AddCommand(jobStatusCmd)
	JobCmd.AddCommand(jobCancelCmd)
	JobCmd.AddCommand(jobWatchCmd)
	JobCmd.AddCommand(jobOutputCmd)
}

// jobEnv is what the job subcommands work against
type jobEnv struct {
	cfg   *am.Config
	queue *async.Queue
	blobs *storage.Local
	close func() error
}

func openJobEnv() (*jobEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	database, err := openDatabase(cfg, "")
	if err != nil {
		return nil, err
	}
	blobs, err := storage.NewLocal(cfg.Storage.Dir, am.DefaultDirPermissions)
	if err != nil {
		database.Close()
		return nil, err
	}

	store := job.NewStore(database)
	models := job.NewModelStore(database)
	queue := async.NewQueue(store, job.NewService(store, models, logger.Logger))
	return &jobEnv{cfg: cfg, queue: queue, blobs: blobs, close: database.Close}, nil
}

// readPromptFile loads a prompt template. A frontmatter type other than
// want is rejected.
func readPromptFile(path, want string) (string, error) {
	if path == "" {
		return "", nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read prompt file %s", path)
	}
	doc, err := prompt.ParseDocument(string(content))
	if err != nil {
		return "", errors.Wrapf(err, "prompt file %s", path)
	}
	if doc.Metadata.Type != "" && doc.Metadata.Type != want {
		return "", errors.Newf("prompt file %s is a %s prompt, expected %s", path, doc.Metadata.Type, want)
	}
	return doc.Body, nil
}

func runJobSubmit(cmd *cobra.Command, args []string) error {
	systemPrompt, err := readPromptFile(submitOpts.systemPrompt, prompt.TypeSystem)
	if err != nil {
		return err
	}
	userPrompt, err := readPromptFile(submitOpts.userPrompt, prompt.TypeUser)
	if err != nil {
		return err
	}

	env, err := openJobEnv()
	if err != nil {
		return err
	}
	defer env.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	fetcher := storage.NewFetcher(env.blobs, httpclient.New(httpclient.Options{
		Timeout:      time.Duration(env.cfg.Backend.TimeoutSeconds) * time.Second,
		AllowPrivate: env.cfg.Backend.AllowPrivateNet,
	}), logger.Logger)
	ref, err := fetcher.Fetch(ctx, args[0], submitOpts.mimeType)
	if err != nil {
		return err
	}

	j, err := env.queue.Submit(ctx, job.CreateRequest{
		Name:         submitOpts.name,
		SourceLang:   submitOpts.sourceLang,
		TargetLang:   submitOpts.targetLang,
		Model:        submitOpts.model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		InputFile:    ref,
	})
	if err != nil {
		if derr := env.blobs.Delete(ref.Key); derr != nil {
			logger.Warnw("Failed to remove rejected input", "key", ref.Key, logger.FieldError, derr)
		}
		return describeValidation(err)
	}

	pterm.Success.Printf("Job %s submitted (%s → %s, %s)\n", j.ID, j.SourceLang, j.TargetLang, j.InputFile.Name)
	if err := checkChunker(env.blobs, j.InputFile.MIMEType); err != nil {
		pterm.Warning.Println(err.Error())
	}
	if !submitOpts.watch {
		fmt.Printf("  Follow it with: tren job watch %s\n", j.ID)
		return nil
	}
	final, err := watchJob(ctx, env.queue, j.ID, watchInterval)
	if err != nil {
		return err
	}
	return reportFinal(final)
}

// checkChunker reports whether the daemon's built-in chunkers can split
// documents of mimeType
func checkChunker(blobs translate.Blobs, mimeType string) error {
	chunkers, _ := translate.NewTextRegistries(blobs)
	return chunkers.CheckSupported(mimeType)
}

// describeValidation lists every rejected field on its own line
func describeValidation(err error) error {
	var verr *job.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	for _, f := range verr.Fields {
		pterm.Error.Printf("%s: %s\n", f.Field, f.Message)
	}
	return errors.Newf("job rejected: %d invalid field(s)", len(verr.Fields))
}

func runJobLs(cmd *cobra.Command, args []string) error {
	status := job.Status(lsStatusFlag)
	if status != "" && !status.IsValid() {
		return errors.Newf("unknown status %q (waiting, processing, succeeded, failed)", lsStatusFlag)
	}

	env, err := openJobEnv()
	if err != nil {
		return err
	}
	defer env.close()

	jobs, err := env.queue.ListJobs(cmd.Context(), status, lsLimitFlag)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		if jobs == nil {
			jobs = []*job.Job{}
		}
		return display.OutputJSON(cmd.OutOrStdout(), jobs)
	}
	if len(jobs) == 0 {
		fmt.Printf("%s No jobs found\n", sym.IX)
		return nil
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(jobTable(jobs)).Render(); err != nil {
		return err
	}
	fmt.Printf("\nTotal: %d job(s)\n", len(jobs))
	return nil
}

func jobTable(jobs []*job.Job) pterm.TableData {
	data := pterm.TableData{{"JOB ID", "NAME", "STATUS", "PROGRESS", "LANGS", "MODEL", "CREATED"}}
	for _, j := range jobs {
		data = append(data, []string{
			j.ID,
			truncate(j.Name, 24),
			statusLabel(j),
			progressLabel(j.Progress),
			j.SourceLang + " → " + j.TargetLang,
			j.Model,
			j.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return data
}

func statusLabel(j *job.Job) string {
	if j.Status == job.StatusFailed && j.ErrorKind != "" {
		return fmt.Sprintf("%s (%s)", j.Status, j.ErrorKind)
	}
	return string(j.Status)
}

func progressLabel(p job.Progress) string {
	if p.Total == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d (%.0f%%)", p.Current, p.Total, p.Percentage())
}

func runJobStatus(cmd *cobra.Command, args []string) error {
	env, err := openJobEnv()
	if err != nil {
		return err
	}
	defer env.close()

	ctx := cmd.Context()
	j, err := env.queue.GetJob(ctx, args[0])
	if err != nil {
		return err
	}
	chunks, err := env.queue.Store().Chunks(ctx, j.ID)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(cmd.OutOrStdout(), server.JobDetailResponse{Job: j, Chunks: chunks})
	}

	fmt.Print(formatJob(j, len(chunks)))
	return nil
}

func formatJob(j *job.Job, savedChunks int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Job ID: %s\n", sym.IX, j.ID)
	fmt.Fprintf(&b, "  Name:      %s\n", j.Name)
	fmt.Fprintf(&b, "  Status:    %s\n", j.Status)
	fmt.Fprintf(&b, "  Languages: %s → %s\n", j.SourceLang, j.TargetLang)
	fmt.Fprintf(&b, "  Model:     %s\n", j.Model)
	fmt.Fprintf(&b, "  Input:     %s (%s)\n", j.InputFile.Name, j.InputFile.MIMEType)
	if j.OutputFile != nil {
		fmt.Fprintf(&b, "  Output:    %s\n", j.OutputFile.Name)
	}
	fmt.Fprintf(&b, "\nProgress: %s, %d chunk result(s) saved\n", progressLabel(j.Progress), savedChunks)

	if j.Status == job.StatusFailed {
		fmt.Fprintf(&b, "\nError (%s): %s\n", j.ErrorKind, j.Error)
		if j.FailedChunk > 0 {
			fmt.Fprintf(&b, "Failed at chunk %d\n", j.FailedChunk)
		}
	}

	fmt.Fprintf(&b, "\nCreated:   %s\n", j.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if j.StartedAt != nil {
		fmt.Fprintf(&b, "Started:   %s\n", j.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if j.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", j.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func runJobCancel(cmd *cobra.Command, args []string) error {
	env, err := openJobEnv()
	if err != nil {
		return err
	}
	defer env.close()

	ctx := cmd.Context()
	id := args[0]
	j, err := env.queue.GetJob(ctx, id)
	if err != nil {
		return err
	}

	switch j.Status {
	case job.StatusWaiting:
		if _, err := env.queue.CancelWaiting(ctx, id, async.ErrCancelledByUser.Error()); err != nil {
			return err
		}
		pterm.Success.Printf("Job %s cancelled\n", id)
		return nil
	case job.StatusProcessing:
		base := cancelServer
		if base == "" {
			base = fmt.Sprintf("http://127.0.0.1:%d", env.cfg.GetServerPort())
		}
		token, err := cliToken(env.cfg)
		if err != nil {
			return err
		}
		if err := requestCancel(ctx, base, id, token); err != nil {
			return err
		}
		pterm.Info.Printf("Cancellation of job %s requested; the daemon fails it at the next chunk boundary\n", id)
		return nil
	default:
		return &job.InvalidTransitionError{JobID: id, From: j.Status, To: job.StatusFailed}
	}
}

// requestCancel asks a running daemon to cancel job id. token is sent as a
// bearer token when non-empty.
func requestCancel(ctx context.Context, base, id, token string) error {
	client := httpclient.New(httpclient.Options{Timeout: 10 * time.Second, AllowPrivate: true})
	url := strings.TrimSuffix(base, "/") + "/api/jobs/" + id + "/cancel"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build cancel request")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.WithHint(errors.Wrapf(err, "cannot reach daemon at %s", base),
			"a processing job can only be cancelled through the daemon running it")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf("daemon refused cancel (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// cliToken mints a short-lived token for calls to the local daemon, or
// returns "" when auth is disabled
func cliToken(cfg *am.Config) (string, error) {
	if !cfg.Server.Auth.Enabled {
		return "", nil
	}
	tokens, err := auth.NewTokenManager(cfg.Server.Auth)
	if err != nil {
		return "", err
	}
	return tokens.Issue("cli", "", time.Minute)
}

func runJobWatch(cmd *cobra.Command, args []string) error {
	env, err := openJobEnv()
	if err != nil {
		return err
	}
	defer env.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	final, err := watchJob(ctx, env.queue, args[0], watchInterval)
	if err != nil {
		return err
	}
	return reportFinal(final)
}

// watchJob polls job id until it is terminal, drawing a progress bar once
// the chunk count is known
func watchJob(ctx context.Context, q *async.Queue, id string, interval time.Duration) (*job.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var bar *pterm.ProgressbarPrinter
	for {
		j, err := q.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}

		if bar == nil && j.Progress.Total > 0 {
			bar, _ = pterm.DefaultProgressbar.
				WithTotal(j.Progress.Total).
				WithTitle(truncate(j.Name, 32)).
				Start()
		}
		if bar != nil {
			if delta := j.Progress.Current - bar.Current; delta > 0 {
				bar.Add(delta)
			}
		}

		if j.Status.IsTerminal() {
			if bar != nil {
				_, _ = bar.Stop()
			}
			return j, nil
		}

		select {
		case <-ctx.Done():
			if bar != nil {
				_, _ = bar.Stop()
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func reportFinal(j *job.Job) error {
	if j.Status == job.StatusSucceeded {
		pterm.Success.Printf("Job %s succeeded: %s\n", j.ID, j.OutputFile.Name)
		fmt.Printf("  Save it with: tren job output %s\n", j.ID)
		return nil
	}
	msg := fmt.Sprintf("job %s failed (%s): %s", j.ID, j.ErrorKind, j.Error)
	if j.FailedChunk > 0 {
		msg += fmt.Sprintf(" at chunk %d", j.FailedChunk)
	}
	return errors.New(msg)
}

func runJobOutput(cmd *cobra.Command, args []string) error {
	env, err := openJobEnv()
	if err != nil {
		return err
	}
	defer env.close()

	j, err := env.queue.GetJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if j.Status != job.StatusSucceeded || j.OutputFile == nil {
		return errors.Newf("job %s has no output (status %s)", j.ID, j.Status)
	}

	dest := outputPathFlag
	if dest == "" {
		dest = j.OutputFile.Name
	}
	if err := copyBlob(env.blobs, j.OutputFile.Key, dest); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote %s\n", dest)
	return nil
}

func copyBlob(blobs *storage.Local, key, dest string) error {
	src, err := blobs.Open(key)
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dest)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return errors.Wrapf(err, "failed to write %s", dest)
	}
	return out.Close()
}

// truncate truncates a string to maxLen characters
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
