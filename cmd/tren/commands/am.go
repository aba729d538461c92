package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/tren/am"
	"github.com/teranos/tren/auth"
	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage tren configuration",
	Long: sym.AM + ` am — Manage tren configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (TREN_* prefix, TREN_BACKEND_API_KEY)
2. Project config (./am.toml, searched up from the working directory)
3. User config (~/.tren/am.toml)
4. System config (/etc/tren/config.toml)
5. Default values

Examples:
  tren am show                    # Show current configuration
  tren am show --format json      # Show configuration in JSON format
  tren am init                    # Write defaults to ~/.tren/am.toml
  tren am check ./am.toml         # Check a config file for typos and bad values
  tren am token --ttl 24h         # Issue an API token (server.auth enabled)`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE:  runAmShow,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Long: `Write the default configuration as TOML. Without a path the user config
(~/.tren/am.toml) is written. An existing file is only replaced with --force,
and is rotated into .back1..back3 first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAmInit,
}

var amCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Check a config file",
	Long: `Parse a config file strictly. Syntax errors are reported with their line,
unknown keys are listed and the merged configuration is validated.
Without a path every file in the cascade is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAmCheck,
}

var amTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token",
	Long: `Sign a bearer token for the HTTP API with server.auth.jwt_secret.
Send it as "Authorization: Bearer <token>", or as ?token=<token> on /ws/jobs.`,
	Args: cobra.NoArgs,
	RunE: runAmToken,
}

var (
	configFormat string
	initForce    bool
	tokenSubject string
	tokenScope   string
	tokenTTL     time.Duration
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amInitCmd.Flags().BoolVar(&initForce, "force", false, "Replace an existing file")
	amTokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "Token subject")
	amTokenCmd.Flags().StringVar(&tokenScope, "scope", "", "Free-form scope recorded in the token")
	amTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default server.auth.token_expiry)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amInitCmd)
	AmCmd.AddCommand(amCheckCmd)
	AmCmd.AddCommand(amTokenCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	out, err := marshalConfig(cfg, configFormat)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

// marshalConfig renders cfg with secrets masked
func marshalConfig(cfg *am.Config, format string) (string, error) {
	masked := *cfg
	if masked.Backend.APIKey != "" {
		masked.Backend.APIKey = "********"
	}
	if masked.Server.Auth.JWTSecret != "" {
		masked.Server.Auth.JWTSecret = "********"
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(masked, "", "  ")
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to JSON")
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(masked)
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to YAML")
		}
		return "# tren configuration\n" + string(data), nil
	case "toml":
		data, err := toml.Marshal(masked)
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to TOML")
		}
		return "# tren configuration\n" + string(data), nil
	default:
		return "", errors.Newf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}

func runAmToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Server.Auth.Enabled {
		return errors.WithHint(errors.New("server.auth is disabled"),
			"set server.auth.enabled = true and a jwt_secret in am.toml")
	}
	tokens, err := auth.NewTokenManager(cfg.Server.Auth)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(tokenSubject, tokenScope, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(am.UserConfigDir(), "am.toml")
	if len(args) == 1 {
		path = args[0]
	}
	if am.UserConfigDir() == "" && len(args) == 0 {
		return errors.New("cannot determine home directory; pass a path")
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return errors.WithHint(errors.Newf("%s already exists", path), "pass --force to replace it (a backup is kept)")
	}
	if err := am.WriteDefault(path); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func runAmCheck(cmd *cobra.Command, args []string) error {
	paths := args
	if len(paths) == 0 {
		paths = am.ConfigPaths()
	}
	if len(paths) == 0 {
		pterm.Info.Println("No config files found; defaults are in effect")
		return nil
	}

	failed := 0
	for _, path := range paths {
		result, err := am.CheckFile(path)
		if result != nil {
			for _, key := range result.UnknownKeys {
				pterm.Warning.Printf("%s: unknown key %q\n", path, key)
			}
		}
		if err != nil {
			failed++
			pterm.Error.Printf("%s: %v\n", path, err)
			for _, d := range errors.GetAllDetails(err) {
				fmt.Println(d)
			}
			continue
		}
		pterm.Success.Printf("%s: %d keys OK\n", path, len(result.Keys))
	}

	if failed > 0 {
		return errors.Newf("%d of %d config files failed the check", failed, len(paths))
	}
	return nil
}
