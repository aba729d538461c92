package am

import (
	"time"

	"github.com/teranos/tren/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.Newf("server.port cannot be 0 (omit for default port %d)", DefaultServerPort)
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}

	if c.Server.Auth.Enabled {
		if len(c.Server.Auth.JWTSecret) < MinJWTSecretLength {
			return errors.WithHint(
				errors.Newf("server.auth.jwt_secret must be at least %d characters when auth is enabled", MinJWTSecretLength),
				"set it in am.toml or TREN_AUTH_SECRET, e.g. from `openssl rand -hex 32`",
			)
		}
	}
	if d, err := time.ParseDuration(c.Server.Auth.TokenExpiry); err != nil || d <= 0 {
		return errors.Newf("server.auth.token_expiry must be a positive duration, got %q", c.Server.Auth.TokenExpiry)
	}

	// 0 workers = submit-only node
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.PollIntervalMS <= 0 {
		return errors.Newf("pulse.poll_interval_ms must be > 0, got %d", c.Pulse.PollIntervalMS)
	}
	if c.Pulse.JobTimeoutSeconds < 0 {
		return errors.Newf("pulse.job_timeout_seconds must be >= 0, got %d", c.Pulse.JobTimeoutSeconds)
	}
	if c.Pulse.MemoryWarnPercent < 0 || c.Pulse.MemoryWarnPercent > 100 {
		return errors.Newf("pulse.memory_warn_percent must be within [0, 100], got %f", c.Pulse.MemoryWarnPercent)
	}

	switch c.Translate.History {
	case HistorySource, HistoryTranslated:
	default:
		return errors.WithHint(
			errors.Newf("translate.history must be %q or %q, got %q", HistorySource, HistoryTranslated, c.Translate.History),
			"source keeps the original chunks as context, translated keeps the model output",
		)
	}
	if c.Translate.MaxAttempts < 1 {
		return errors.Newf("translate.max_attempts must be >= 1, got %d", c.Translate.MaxAttempts)
	}
	if c.Translate.InitialBackoffMS < 0 || c.Translate.MaxBackoffMS < 0 {
		return errors.New("translate backoff values must be >= 0")
	}
	if c.Translate.MaxBackoffMS < c.Translate.InitialBackoffMS {
		return errors.Newf("translate.max_backoff_ms (%d) must be >= translate.initial_backoff_ms (%d)",
			c.Translate.MaxBackoffMS, c.Translate.InitialBackoffMS)
	}
	for i, tok := range c.Translate.SpecialTokens {
		if tok == "" {
			return errors.Newf("translate.special_tokens[%d] cannot be empty", i)
		}
	}

	if c.Storage.Dir == "" {
		return errors.New("storage.dir cannot be empty")
	}

	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url cannot be empty")
	}
	if c.Backend.Temperature != nil && (*c.Backend.Temperature < 0 || *c.Backend.Temperature > 2) {
		return errors.Newf("backend.temperature must be within [0, 2], got %f", *c.Backend.Temperature)
	}
	if c.Backend.MaxTokens != nil && *c.Backend.MaxTokens <= 0 {
		return errors.Newf("backend.max_tokens must be > 0, got %d (omit for default)", *c.Backend.MaxTokens)
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return errors.Newf("backend.timeout_seconds must be > 0, got %d", c.Backend.TimeoutSeconds)
	}
	if c.Backend.RequestsPerMinute < 0 {
		return errors.Newf("backend.requests_per_minute must be >= 0, got %d", c.Backend.RequestsPerMinute)
	}

	return nil
}
