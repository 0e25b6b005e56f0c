package config

import (
	"net/url"
	"strings"
)

// validate enforces cross-field invariants after merging. Every failure
// unwraps to ErrValidationFailed so the process can exit with code 2.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return invalid("server", "port", "must be between 1 and 65535")
	}

	tm := cfg.TaskManager
	if tm.RateLimitPerMinute <= 0 {
		return invalid("task_manager", "rate_limit_per_minute", "must be positive")
	}
	if tm.QueueSoftLimit <= 0 {
		return invalid("task_manager", "queue_soft_limit", "must be positive")
	}
	if tm.CompletedTaskCap <= 0 {
		return invalid("task_manager", "completed_task_cap", "must be positive")
	}
	if tm.CompletionTimeout <= 0 {
		return invalid("task_manager", "completion_timeout", "must be positive")
	}
	if tm.CompletionPollInterval <= 0 {
		return invalid("task_manager", "completion_poll_interval", "must be positive")
	}

	ag := cfg.Agent
	if ag.RecursionLimit <= 0 {
		return invalid("agent", "recursion_limit", "must be positive")
	}
	if ag.AbandonAfter <= 0 {
		return invalid("agent", "abandon_after", "must be positive")
	}
	if ag.EventContextCacheSize <= 0 {
		return invalid("agent", "event_context_cache_size", "must be positive")
	}

	gw := cfg.Gateway
	if err := validateURL("gateway", "url", gw.URL); err != nil {
		return err
	}
	if gw.Port <= 0 || gw.Port > 65535 {
		return invalid("gateway", "port", "must be between 1 and 65535")
	}
	if gw.CallTimeout <= 0 {
		return invalid("gateway", "call_timeout", "must be positive")
	}
	for _, name := range ServiceNames {
		serviceURL, ok := gw.Services[name]
		if !ok || serviceURL == "" {
			return invalid("gateway", "services."+name, "is required")
		}
		if err := validateURL("gateway", "services."+name, serviceURL); err != nil {
			return err
		}
	}

	llm := cfg.LLM
	if llm.APIKeyEnv == "" {
		return invalid("llm", "api_key_env", "is required")
	}
	if llm.Model == "" {
		return invalid("llm", "model", "is required")
	}
	if llm.VisionModel == "" {
		return invalid("llm", "vision_model", "is required")
	}
	if llm.Timeout <= 0 {
		return invalid("llm", "timeout", "must be positive")
	}

	dc := cfg.Discord
	if dc.Enabled && dc.TokenEnv == "" {
		return invalid("discord", "token_env", "is required when discord is enabled")
	}
	if dc.PollInterval <= 0 {
		return invalid("discord", "poll_interval", "must be positive")
	}

	photo := cfg.Photo
	if photo.MinInterval < 0 {
		return invalid("photo", "min_interval", "must not be negative")
	}
	if photo.JPEGQuality < 1 || photo.JPEGQuality > 100 {
		return invalid("photo", "jpeg_quality", "must be between 1 and 100")
	}
	if photo.MaxReferences <= 0 {
		return invalid("photo", "max_references", "must be positive")
	}

	if cfg.GuildData.Root == "" {
		return invalid("guild_data", "root", "is required")
	}

	return nil
}

func validateURL(section, field, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || !strings.HasPrefix(parsed.Scheme, "http") {
		return invalid(section, field, "must be an http(s) URL")
	}
	return nil
}
