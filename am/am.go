// Package am holds tren's configuration: the "am" of the system, what it is
// set up to be. Values come from TOML files merged in precedence order
// (system < user < project) and TREN_* environment variables.
package am

// Config represents the tren configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Pulse     PulseConfig     `mapstructure:"pulse"`
	Translate TranslateConfig `mapstructure:"translate"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Backend   BackendConfig   `mapstructure:"backend"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port           *int       `mapstructure:"port"` // nil = DefaultServerPort, 0 is invalid
	AllowedOrigins []string   `mapstructure:"allowed_origins"`
	Auth           AuthConfig `mapstructure:"auth"`
}

// AuthConfig configures bearer-token authentication of the HTTP API
type AuthConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	JWTSecret   string `mapstructure:"jwt_secret"`   // HMAC key shared by the daemon and the CLI
	TokenExpiry string `mapstructure:"token_expiry"` // default lifetime of issued tokens
}

// MinJWTSecretLength is the shortest accepted server.auth.jwt_secret
const MinJWTSecretLength = 32

// DefaultServerPort is used when server.port is omitted
const DefaultServerPort = 8711

// PulseConfig configures the background worker pool
type PulseConfig struct {
	Workers              int     `mapstructure:"workers"`                // concurrent jobs (0 = no workers)
	PollIntervalMS       int     `mapstructure:"poll_interval_ms"`       // how often idle workers look for waiting jobs
	JobTimeoutSeconds    int     `mapstructure:"job_timeout_seconds"`    // 0 = no per-job deadline
	MemoryWarnPercent    float64 `mapstructure:"memory_warn_percent"`    // warn when system memory use exceeds this
	RecoverOnStart       bool    `mapstructure:"recover_on_start"`       // fail jobs left processing by a crashed process
	ShutdownGraceSeconds int     `mapstructure:"shutdown_grace_seconds"` // how long Stop waits for in-flight jobs
}

// TranslateConfig configures prompt construction and the retry policy
type TranslateConfig struct {
	History          string   `mapstructure:"history"` // "source" or "translated"
	SpecialTokens    []string `mapstructure:"special_tokens"`
	MaxAttempts      int      `mapstructure:"max_attempts"`
	InitialBackoffMS int      `mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int      `mapstructure:"max_backoff_ms"`
}

// StorageConfig configures where input and output documents are kept
type StorageConfig struct {
	Dir string `mapstructure:"dir"`
}

// BackendConfig configures the default OpenAI-compatible chat endpoint.
// Individual models may override these through their params.
type BackendConfig struct {
	BaseURL           string   `mapstructure:"base_url"`
	APIKey            string   `mapstructure:"api_key"`
	Model             string   `mapstructure:"model"`
	Temperature       *float64 `mapstructure:"temperature"` // nil = default 0.2
	MaxTokens         *int     `mapstructure:"max_tokens"`  // nil = server decides
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	RequestsPerMinute int      `mapstructure:"requests_per_minute"` // 0 = unlimited
	AllowPrivateNet   bool     `mapstructure:"allow_private_net"`   // permit localhost/private endpoints (local model servers)
}

// History modes accepted by translate.history
const (
	HistorySource     = "source"
	HistoryTranslated = "translated"
)

// GetServerPort returns the configured port or DefaultServerPort
func (c *Config) GetServerPort() int {
	if c.Server.Port == nil {
		return DefaultServerPort
	}
	return *c.Server.Port
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "tren.db"
	}
	return c.Database.Path
}
