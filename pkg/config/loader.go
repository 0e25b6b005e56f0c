package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the YAML file Initialize looks for inside configDir.
const ConfigFileName = "tlt.yaml"

// Initialize loads, merges, and validates configuration. It is the single
// entry point used by cmd/tlt.
//
// Steps performed:
//  1. Read tlt.yaml from configDir (optional; defaults apply when absent)
//  2. Expand {{.VAR}} environment references
//  3. Unmarshal YAML
//  4. Merge user values over built-in defaults
//  5. Validate the result
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"server_addr", cfg.Server.Addr(),
		"gateway_url", cfg.Gateway.URL,
		"services", len(cfg.Gateway.Services),
		"guild_data_root", cfg.GuildData.Root,
		"discord_enabled", cfg.Discord.Enabled,
		"debug", cfg.Debug)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	cfg := defaultConfig()
	cfg.configDir = configDir

	user, err := readConfigFile(filepath.Join(configDir, ConfigFileName))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return cfg, nil
	}

	// User values override defaults section by section; unset fields keep
	// their defaults.
	if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}

	// mergo does not merge map values elementwise the way we need for the
	// service registry: a partial map must override per key.
	if user.Gateway != nil && len(user.Gateway.Services) > 0 {
		merged := DefaultGatewayConfig().Services
		for name, url := range user.Gateway.Services {
			merged[name] = url
		}
		cfg.Gateway.Services = merged
	}

	cfg.Debug = cfg.Debug || user.Debug
	return cfg, nil
}

// readConfigFile returns nil with no error when the file does not exist.
func readConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No configuration file found, using defaults", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}
