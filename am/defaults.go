package am

import (
	"github.com/spf13/viper"
)

// DefaultDirPermissions is used when creating ~/.tren and storage directories
const DefaultDirPermissions = 0750

// DefaultSpecialTokens are kept intact by the default system prompt
var DefaultSpecialTokens = []string{"𐑣"}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "tren.db")

	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})

	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("server.auth.token_expiry", "720h")

	v.SetDefault("pulse.workers", 2)
	v.SetDefault("pulse.poll_interval_ms", 1000)
	v.SetDefault("pulse.job_timeout_seconds", 0)
	v.SetDefault("pulse.memory_warn_percent", 90.0)
	v.SetDefault("pulse.recover_on_start", true)
	v.SetDefault("pulse.shutdown_grace_seconds", 30)

	v.SetDefault("translate.history", HistorySource)
	v.SetDefault("translate.special_tokens", DefaultSpecialTokens)
	v.SetDefault("translate.max_attempts", 3)
	v.SetDefault("translate.initial_backoff_ms", 500)
	v.SetDefault("translate.max_backoff_ms", 10000)

	v.SetDefault("storage.dir", "tren-data")

	v.SetDefault("backend.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("backend.model", "openai/gpt-oss-20b")
	v.SetDefault("backend.temperature", 0.2)
	v.SetDefault("backend.timeout_seconds", 120)
	v.SetDefault("backend.requests_per_minute", 60)
	v.SetDefault("backend.allow_private_net", false)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("backend.api_key", "TREN_BACKEND_API_KEY", "OPENROUTER_API_KEY")
	_ = v.BindEnv("database.path", "TREN_DATABASE_PATH")
	_ = v.BindEnv("storage.dir", "TREN_STORAGE_DIR")
	_ = v.BindEnv("server.auth.jwt_secret", "TREN_AUTH_SECRET")
}

// optionalKeys have no default but are recognised in config files
var optionalKeys = []string{
	"server.port",
	"backend.api_key",
	"backend.max_tokens",
	"server.auth.jwt_secret",
}
