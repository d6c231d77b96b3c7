package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DataRoot: "~/.tutord/data",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8100,
		},
		LLM: LLMConfig{
			Model:             "claude-sonnet-4-5-20250929",
			TimeoutSeconds:    120,
			RequestsPerMinute: 60,
		},
		Scheduler: SchedulerConfig{
			TickSeconds:             60,
			MaxConcurrentDispatches: 8,
		},
		Workspace: WorkspaceConfig{
			MaxFileBytes: 10 * 1024 * 1024,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	// .env is a development convenience; ignore when absent.
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.DataRoot = ExpandHome(cfg.DataRoot)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.DataRoot = ExpandHome(cfg.DataRoot)
	if cfg.Workspace.SharedRoot != "" {
		cfg.Workspace.SharedRoot = ExpandHome(cfg.Workspace.SharedRoot)
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("TUTORD_DATA_ROOT", &c.DataRoot)
	envStr("TUTORD_HOST", &c.Server.Host)
	envInt("TUTORD_PORT", &c.Server.Port)

	envStr("TUTORD_LLM_MODEL", &c.LLM.Model)
	envStr("TUTORD_LLM_BASE_URL", &c.LLM.BaseURL)
	envStr("TUTORD_LLM_API_KEY", &c.LLM.APIKey)
	envInt("TUTORD_LLM_TIMEOUT_SECONDS", &c.LLM.TimeoutSeconds)

	envStr("TUTORD_CONVO_ENDPOINT", &c.Convo.Endpoint)
	envStr("TUTORD_CONVO_API_KEY", &c.Convo.APIKey)

	envInt("TUTORD_SCHEDULER_TICK_SECONDS", &c.Scheduler.TickSeconds)
	envInt("TUTORD_MAX_CONCURRENT_DISPATCHES", &c.Scheduler.MaxConcurrentDispatches)

	envStr("TUTORD_WORKSPACE_SHARED_ROOT", &c.Workspace.SharedRoot)
	envStr("TUTORD_TRACING_ENDPOINT", &c.Tracing.Endpoint)
}
