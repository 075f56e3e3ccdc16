// Package config provides configuration management for the vector server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the vector server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7090").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, sandboxes).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// ReposFile is an optional YAML file of repo configs seeded at startup.
	ReposFile string

	// GitHubToken is the personal access token for GitHub API operations.
	GitHubToken string

	// AnthropicAPIKey authenticates planning, review and the tool-use backend.
	AnthropicAPIKey string

	// Model overrides the default Anthropic model when non-empty.
	Model string

	// SessionBackend selects the coding backend: "cli" or "tooluse".
	SessionBackend string

	// MaxIterations bounds fix-loop verification passes. 0 selects the
	// backend default (1 for cli, 3 for tooluse).
	MaxIterations int

	// SandboxTTL bounds sandbox lifetime.
	SandboxTTL time.Duration

	// PollInterval is how often the background poller scans for work.
	PollInterval time.Duration

	// Remote sandbox host (optional). When SSHHost is set, sandboxes run
	// in docker containers on that host instead of local subprocesses.
	SSHHost      string
	SSHUser      string
	SSHKeyPath   string
	SandboxImage string

	// Slack notifications (optional).
	SlackBotToken string
	SlackChannel  string

	// Telegram feedback bot (optional -- long polling, no public URL needed).
	TelegramBotToken string
	// TelegramRepoID is the repo config feedback-driven projects target.
	TelegramRepoID string
}

// Load creates a Config from environment variables with sensible defaults.
func Load() (*Config, error) {
	dataDir := envOr("VECTOR_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:       envOr("VECTOR_ADDR", ":7090"),
		DataDir:          dataDir,
		DatabasePath:     filepath.Join(dataDir, "vector.db"),
		ReposFile:        envOr("VECTOR_REPOS_FILE", ""),
		GitHubToken:      os.Getenv("GITHUB_TOKEN"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		Model:            os.Getenv("VECTOR_MODEL"),
		SessionBackend:   envOr("VECTOR_SESSION_BACKEND", "cli"),
		MaxIterations:    envOrInt("VECTOR_MAX_ITERATIONS", 0),
		SandboxTTL:       envOrDuration("VECTOR_SANDBOX_TTL", 30*time.Minute),
		PollInterval:     envOrDuration("VECTOR_POLL_INTERVAL", 10*time.Second),
		SSHHost:          os.Getenv("VECTOR_SSH_HOST"),
		SSHUser:          os.Getenv("VECTOR_SSH_USER"),
		SSHKeyPath:       os.Getenv("VECTOR_SSH_KEY"),
		SandboxImage:     envOr("VECTOR_SANDBOX_IMAGE", "vector-sandbox:latest"),
		SlackBotToken:    os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel:     os.Getenv("SLACK_CHANNEL"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramRepoID:   os.Getenv("TELEGRAM_REPO_ID"),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.SessionBackend != "cli" && c.SessionBackend != "tooluse" {
		return fmt.Errorf("VECTOR_SESSION_BACKEND must be \"cli\" or \"tooluse\", got %q", c.SessionBackend)
	}
	if c.SSHHost != "" && (c.SSHUser == "" || c.SSHKeyPath == "") {
		return fmt.Errorf("VECTOR_SSH_USER and VECTOR_SSH_KEY are required with VECTOR_SSH_HOST")
	}
	return nil
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// TelegramEnabled returns true if the feedback bot is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

// RemoteSandboxEnabled returns true if the SSH docker backend is configured.
func (c *Config) RemoteSandboxEnabled() bool {
	return c.SSHHost != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vector"
	}
	return filepath.Join(home, ".vector")
}
