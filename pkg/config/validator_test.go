package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaults(t *testing.T) {
	require.NoError(t, validate(defaultConfig()))
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "zero rate limit",
			mutate: func(c *Config) { c.TaskManager.RateLimitPerMinute = 0 },
			errMsg: "rate_limit_per_minute",
		},
		{
			name:   "negative queue limit",
			mutate: func(c *Config) { c.TaskManager.QueueSoftLimit = -5 },
			errMsg: "queue_soft_limit",
		},
		{
			name:   "zero recursion limit",
			mutate: func(c *Config) { c.Agent.RecursionLimit = 0 },
			errMsg: "recursion_limit",
		},
		{
			name:   "bad gateway url",
			mutate: func(c *Config) { c.Gateway.URL = "not a url" },
			errMsg: "gateway",
		},
		{
			name:   "missing backend service",
			mutate: func(c *Config) { delete(c.Gateway.Services, ServiceVibeCanvas) },
			errMsg: "services.vibe-canvas",
		},
		{
			name:   "bad service url",
			mutate: func(c *Config) { c.Gateway.Services[ServiceRSVP] = "ftp://weird" },
			errMsg: "services.rsvp",
		},
		{
			name:   "missing model",
			mutate: func(c *Config) { c.LLM.Model = "" },
			errMsg: "model",
		},
		{
			name:   "discord enabled without token env",
			mutate: func(c *Config) { c.Discord.Enabled = true; c.Discord.TokenEnv = "" },
			errMsg: "token_env",
		},
		{
			name:   "jpeg quality out of range",
			mutate: func(c *Config) { c.Photo.JPEGQuality = 101 },
			errMsg: "jpeg_quality",
		},
		{
			name:   "empty guild data root",
			mutate: func(c *Config) { c.GuildData.Root = "" },
			errMsg: "root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.ErrorIs(t, err, ErrValidationFailed)
		})
	}
}
