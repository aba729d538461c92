package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tren/ai/provider"
	"github.com/teranos/tren/ai/tracker"
	"github.com/teranos/tren/display"
	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/job"
	"github.com/teranos/tren/sym"
)

// ModelCmd represents the model command
var ModelCmd = &cobra.Command{
	Use:   "model",
	Short: sym.Tr + " Register and list translation models",
	Long: sym.Tr + ` model — translation models

A model is a named entry jobs refer to. Its params choose the backend
endpoint and generation settings; anything left unset comes from the
[backend] section of the configuration.

Examples:
  tren model add gpt --name "GPT OSS 20B"
  tren model add llama --base-url http://localhost:11434/v1 --backend-model llama3
  tren model add fr --params '{"temperature":0.1,"api_key_env":"FR_KEY"}'
  tren model ls
  tren model usage --since 168h`,
}

var modelAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Register or update a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelAdd,
}

var modelLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List models",
	Args:  cobra.NoArgs,
	RunE:  runModelLs,
}

var modelUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show model calls per model",
	Args:  cobra.NoArgs,
	RunE:  runModelUsage,
}

// modelFlags are the params that can be given one flag at a time
type modelFlags struct {
	name         string
	params       string
	baseURL      string
	backendModel string
	temperature  float64
	maxTokens    int
	apiKeyEnv    string
}

var (
	addFlags       modelFlags
	usageSinceFlag time.Duration
)

func init() {
	addModelFlags(modelAddCmd, &addFlags)
	modelUsageCmd.Flags().DurationVar(&usageSinceFlag, "since", 24*time.Hour, "Usage window")

	ModelCmd.AddCommand(modelAddCmd)
	ModelCmd.AddCommand(modelLsCmd)
	ModelCmd.AddCommand(modelUsageCmd)
}

func addModelFlags(cmd *cobra.Command, fl *modelFlags) {
	f := cmd.Flags()
	f.StringVar(&fl.name, "name", "", "Display name (at most 32 characters)")
	f.StringVar(&fl.params, "params", "", "Params as a JSON object")
	f.StringVar(&fl.baseURL, "base-url", "", "OpenAI-compatible endpoint")
	f.StringVar(&fl.backendModel, "backend-model", "", "Model name sent to the endpoint")
	f.Float64Var(&fl.temperature, "temperature", 0, "Sampling temperature [0, 2]")
	f.IntVar(&fl.maxTokens, "max-tokens", 0, "Completion token limit")
	f.StringVar(&fl.apiKeyEnv, "api-key-env", "", "Environment variable holding the API key")
}

// buildModel merges --params with the individual flags; flags win. The
// result is validated the way the HTTP API validates it.
func buildModel(cmd *cobra.Command, id string, fl modelFlags) (*job.Model, error) {
	p, err := provider.ParseParams(fl.params)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if fl.baseURL != "" {
		p.BaseURL = fl.baseURL
	}
	if fl.backendModel != "" {
		p.Model = fl.backendModel
	}
	if changed("temperature") {
		t := fl.temperature
		p.Temperature = &t
	}
	if changed("max-tokens") {
		n := fl.maxTokens
		p.MaxTokens = &n
	}
	if fl.apiKeyEnv != "" {
		p.APIKeyEnv = fl.apiKeyEnv
	}

	var raw string
	if p != (provider.Params{}) {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode params")
		}
		raw = string(data)
		// re-check the merged values
		if _, err := provider.ParseParams(raw); err != nil {
			return nil, err
		}
	}

	m := &job.Model{ID: id, Name: fl.name, Params: raw}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func runModelAdd(cmd *cobra.Command, args []string) error {
	m, err := buildModel(cmd, args[0], addFlags)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg, "")
	if err != nil {
		return err
	}
	defer database.Close()

	if err := job.NewModelStore(database).Put(cmd.Context(), m); err != nil {
		return err
	}
	pterm.Success.Printf("Model %s saved\n", m.ID)
	return nil
}

func runModelLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg, "")
	if err != nil {
		return err
	}
	defer database.Close()

	models, err := job.NewModelStore(database).List(cmd.Context())
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		if models == nil {
			models = []*job.Model{}
		}
		return display.OutputJSON(cmd.OutOrStdout(), models)
	}
	if len(models) == 0 {
		fmt.Printf("%s No models registered (see `tren model add`)\n", sym.Tr)
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(modelTable(models)).Render()
}

func modelTable(models []*job.Model) pterm.TableData {
	data := pterm.TableData{{"ID", "NAME", "PARAMS", "CREATED"}}
	for _, m := range models {
		params := m.Params
		if params == "" {
			params = "(backend defaults)"
		}
		data = append(data, []string{m.ID, m.Name, truncate(params, 60), m.CreatedAt.Local().Format("2006-01-02 15:04")})
	}
	return data
}

func runModelUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg, "")
	if err != nil {
		return err
	}
	defer database.Close()

	rows, err := tracker.NewUsageTracker(database).GetModelBreakdown(cmd.Context(), time.Now().Add(-usageSinceFlag))
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		if rows == nil {
			rows = []tracker.ModelBreakdown{}
		}
		return display.OutputJSON(cmd.OutOrStdout(), rows)
	}
	if len(rows) == 0 {
		fmt.Printf("%s No model calls in the last %s\n", sym.Tr, usageSinceFlag)
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(usageTable(rows)).Render()
}

func usageTable(rows []tracker.ModelBreakdown) pterm.TableData {
	data := pterm.TableData{{"MODEL", "BACKEND MODEL", "CALLS", "FAILED", "TOKENS", "AVG MS"}}
	for _, r := range rows {
		data = append(data, []string{
			r.ModelID,
			r.BackendModel,
			strconv.Itoa(r.RequestCount),
			strconv.Itoa(r.FailedCount),
			strconv.Itoa(r.TotalTokens),
			strconv.FormatFloat(r.AvgDurationMS, 'f', 0, 64),
		})
	}
	return data
}
