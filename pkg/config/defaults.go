package config

import "time"

// Service names recognised by the gateway's backend registry.
const (
	ServiceEventManager   = "event-manager"
	ServiceRSVP           = "rsvp"
	ServiceGuildManager   = "guild-manager"
	ServicePhotoVibeCheck = "photo-vibe-check"
	ServiceVibeCanvas     = "vibe-canvas"
)

// ServiceNames lists the five backends in registry order.
var ServiceNames = []string{
	ServiceEventManager,
	ServiceRSVP,
	ServiceGuildManager,
	ServicePhotoVibeCheck,
	ServiceVibeCanvas,
}

// DefaultServerConfig returns the built-in HTTP server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host: "0.0.0.0",
		Port: 8000,
	}
}

// DefaultTaskManagerConfig returns the built-in admission defaults.
func DefaultTaskManagerConfig() *TaskManagerConfig {
	return &TaskManagerConfig{
		RateLimitPerMinute:     30,
		QueueSoftLimit:         100,
		CompletedTaskCap:       1000,
		CompletionTimeout:      500 * time.Second,
		CompletionPollInterval: 100 * time.Millisecond,
	}
}

// DefaultAgentConfig returns the built-in graph-driver defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		RecursionLimit:        500,
		AbandonAfter:          30 * time.Minute,
		SweepInterval:         5 * time.Minute,
		EventContextCacheSize: 128,
	}
}

// DefaultGatewayConfig returns the built-in gateway defaults, including the
// backend registry.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		URL:         "http://localhost:8003/mcp/",
		Host:        "0.0.0.0",
		Port:        8003,
		DevMode:     false,
		PolicyFile:  "gateway_policy.json",
		CallTimeout: 4 * time.Second,
		Services: map[string]string{
			ServiceEventManager:   "http://localhost:8004/mcp/",
			ServiceRSVP:           "http://localhost:8005/mcp/",
			ServiceGuildManager:   "http://localhost:8006/mcp/",
			ServicePhotoVibeCheck: "http://localhost:8007/mcp/",
			ServiceVibeCanvas:     "http://localhost:8008/mcp/",
		},
	}
}

// DefaultLLMConfig returns the built-in model defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		APIKeyEnv:   "OPENAI_API_KEY",
		Model:       "gpt-4o-mini",
		VisionModel: "gpt-4o",
		Temperature: 0.2,
		MaxTokens:   1024,
		Timeout:     60 * time.Second,
	}
}

// DefaultDiscordConfig returns the built-in chat-adapter defaults.
func DefaultDiscordConfig() *DiscordConfig {
	return &DiscordConfig{
		Enabled:           false,
		TokenEnv:          "DISCORD_BOT_TOKEN",
		PollInterval:      30 * time.Second,
		SendRatePerSecond: 2,
		SendBurst:         5,
		DownloadTimeout:   30 * time.Second,
	}
}

// DefaultPhotoConfig returns the built-in vibe-check defaults.
func DefaultPhotoConfig() *PhotoConfig {
	return &PhotoConfig{
		MinInterval:     time.Hour,
		DownloadTimeout: 30 * time.Second,
		MaxReferences:   5,
		JPEGQuality:     95,
	}
}

// DefaultGuildDataConfig returns the built-in guild-data defaults.
func DefaultGuildDataConfig() *GuildDataConfig {
	return &GuildDataConfig{
		Root: "./guild_data",
	}
}

// defaultConfig assembles the full built-in configuration.
func defaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		TaskManager: DefaultTaskManagerConfig(),
		Agent:       DefaultAgentConfig(),
		Gateway:     DefaultGatewayConfig(),
		LLM:         DefaultLLMConfig(),
		Discord:     DefaultDiscordConfig(),
		Photo:       DefaultPhotoConfig(),
		GuildData:   DefaultGuildDataConfig(),
	}
}
