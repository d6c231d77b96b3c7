// Package config holds the runtime configuration for the tutord service.
// Config is loaded from a JSON5 file and overlaid with TUTORD_* environment
// variables; secrets come from the environment only.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config is the root configuration.
type Config struct {
	DataRoot  string          `json:"data_root"`
	Server    ServerConfig    `json:"server"`
	LLM       LLMConfig       `json:"llm"`
	Convo     ConvoConfig     `json:"conversation_store,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Workspace WorkspaceConfig `json:"workspace"`
	Tracing   TracingConfig   `json:"tracing,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LLMConfig selects the provider and its limits.
// APIKey is never read from the config file, only from env TUTORD_LLM_API_KEY.
type LLMConfig struct {
	Model             string `json:"model"`
	BaseURL           string `json:"base_url,omitempty"`
	APIKey            string `json:"-"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
	RequestsPerMinute int    `json:"requests_per_minute"`
}

// ConvoConfig points at the external conversation-history collaborator.
// Persistence is best-effort; an empty endpoint disables it.
type ConvoConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"-"` // from env TUTORD_CONVO_API_KEY only
}

// SchedulerConfig tunes the background-task engine.
type SchedulerConfig struct {
	TickSeconds            int `json:"tick_seconds"`
	MaxConcurrentDispatches int `json:"max_concurrent_dispatches"`
}

// WorkspaceConfig configures per-user sandbox directories.
// When SharedRoot is set, every user operates on the same workspace tree.
type WorkspaceConfig struct {
	SharedRoot   string `json:"shared_root,omitempty"`
	MaxFileBytes int64  `json:"max_file_bytes"`
}

// TracingConfig enables the optional OTLP trace exporter.
type TracingConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	Insecure bool   `json:"insecure,omitempty"`
}

// DatabasePath returns the sqlite file holding tasks, runs and activity.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataRoot, "tutord.db")
}

// UserDir returns the storage root for one user.
func (c *Config) UserDir(userID string) string {
	return filepath.Join(c.DataRoot, "users", userID)
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
