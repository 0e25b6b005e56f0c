// Package config loads and validates the coordinator configuration from
// tlt.yaml plus environment variables. Defaults are built in; a missing
// config file yields a fully defaulted configuration so the coordinator can
// start with nothing but an API key in the environment.
package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the umbrella configuration handed to every component at wiring
// time. Sections are pointers so mergo can distinguish "absent" from "zero".
type Config struct {
	configDir string

	Server      *ServerConfig      `yaml:"server"`
	TaskManager *TaskManagerConfig `yaml:"task_manager"`
	Agent       *AgentConfig       `yaml:"agent"`
	Gateway     *GatewayConfig     `yaml:"gateway"`
	LLM         *LLMConfig         `yaml:"llm"`
	Discord     *DiscordConfig     `yaml:"discord"`
	Photo       *PhotoConfig       `yaml:"photo"`
	GuildData   *GuildDataConfig   `yaml:"guild_data"`
	Debug       bool               `yaml:"debug"`
}

// ServerConfig controls the coordinator's own HTTP surface (ingress,
// monitor endpoints, health, metrics).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address for the HTTP server.
func (c *ServerConfig) Addr() string {
	return joinHostPort(c.Host, c.Port)
}

// TaskManagerConfig controls admission and completion tracking.
type TaskManagerConfig struct {
	// RateLimitPerMinute caps submissions inside a sliding 60s window.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// QueueSoftLimit rejects new submissions once the queue backlog passes
	// this size, independent of the sliding window.
	QueueSoftLimit int `yaml:"queue_soft_limit"`

	// CompletedTaskCap bounds the completed-task map; oldest entries are
	// evicted by update time.
	CompletedTaskCap int `yaml:"completed_task_cap"`

	// CompletionTimeout is how long the worker waits for a task's lifecycle
	// to reach a final status before marking it abandoned.
	CompletionTimeout time.Duration `yaml:"completion_timeout"`

	// CompletionPollInterval is the lifecycle polling period during the wait.
	CompletionPollInterval time.Duration `yaml:"completion_poll_interval"`
}

// AgentConfig controls the state-graph driver.
type AgentConfig struct {
	// RecursionLimit bounds node transitions for a single task run.
	RecursionLimit int `yaml:"recursion_limit"`

	// AbandonAfter finalises lifecycles that have produced no terminal
	// status within this age.
	AbandonAfter time.Duration `yaml:"abandon_after"`

	// SweepInterval is how often the abandonment sweeper scans lifecycles.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// EventContextCacheSize bounds the executor's event-context cache.
	EventContextCacheSize int `yaml:"event_context_cache_size"`
}

// GatewayConfig controls the MCP gateway and its backend registry.
type GatewayConfig struct {
	// URL is where clients (the executor) reach the gateway.
	URL string `yaml:"url"`

	// Host/Port are the gateway's own listen address.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// DevMode permits tool calls without an auth context. Production
	// deployments must leave this false.
	DevMode bool `yaml:"dev_mode"`

	// PolicyFile persists role-policy mutations; relative paths resolve
	// under the guild data root.
	PolicyFile string `yaml:"policy_file"`

	// CallTimeout bounds a single forwarded backend call, including the
	// degradation path for unreachable services.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// StrictStartup fails boot when a configured backend is unreachable.
	StrictStartup bool `yaml:"strict_startup"`

	// Services maps service name to backend MCP URL.
	Services map[string]string `yaml:"services"`
}

// Addr returns the gateway listen address.
func (c *GatewayConfig) Addr() string {
	return joinHostPort(c.Host, c.Port)
}

// LLMConfig controls the reasoning and vision model calls.
type LLMConfig struct {
	// APIKeyEnv names the environment variable holding the provider key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Model is used for reasoning decisions.
	Model string `yaml:"model"`

	// VisionModel is used for photo vibe checks.
	VisionModel string `yaml:"vision_model"`

	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// APIKey reads the provider key from the configured environment variable.
func (c *LLMConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// DiscordConfig controls the chat adapter.
type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`

	// PollInterval is the cadence of the agent-state snapshot poll.
	PollInterval time.Duration `yaml:"poll_interval"`

	// SendRatePerSecond and SendBurst gate outbound chat actions.
	SendRatePerSecond float64 `yaml:"send_rate_per_second"`
	SendBurst         int     `yaml:"send_burst"`

	// DownloadTimeout bounds attachment downloads.
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// Token reads the bot token from the configured environment variable.
func (c *DiscordConfig) Token() string {
	return os.Getenv(c.TokenEnv)
}

// PhotoConfig controls the vibe-check pipeline.
type PhotoConfig struct {
	// MinInterval is the per-(user,event) minimum gap between submissions.
	MinInterval time.Duration `yaml:"min_interval"`

	// DownloadTimeout bounds fetching a submitted photo.
	DownloadTimeout time.Duration `yaml:"download_timeout"`

	// MaxReferences is how many promotional images are loaded per check.
	MaxReferences int `yaml:"max_references"`

	// JPEGQuality is used when re-encoding non-JPEG submissions.
	JPEGQuality int `yaml:"jpeg_quality"`
}

// GuildDataConfig locates per-guild persistent state.
type GuildDataConfig struct {
	// Root is the guild-data directory. Event and user records live under
	// <root>/data/<guild>/<event>/.
	Root string `yaml:"root"`
}

// DataDir returns the directory holding per-guild records.
func (c *GuildDataConfig) DataDir() string {
	return filepath.Join(c.Root, "data")
}

// ConfigDir reports where configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

func joinHostPort(host string, port int) string {
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
