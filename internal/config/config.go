// Package config loads querydesk configuration from a JSON5 or YAML file,
// a .env file and environment variables, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Provider  ProviderConfig  `json:"provider" yaml:"provider"`
	Agent     AgentConfig     `json:"agent" yaml:"agent"`
	Memory    MemoryConfig    `json:"memory" yaml:"memory"`
	History   HistoryConfig   `json:"history" yaml:"history"`
	Context   ContextConfig   `json:"context" yaml:"context"`
	Knowledge KnowledgeConfig `json:"knowledge" yaml:"knowledge"`
	AWS       AWSConfig       `json:"aws" yaml:"aws"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Log       LogConfig       `json:"log" yaml:"log"`
	CacheDir  string          `json:"cache_dir" yaml:"cache_dir"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	Token        string `json:"token,omitempty" yaml:"token,omitempty"`
	RateLimitRPM int    `json:"rate_limit_rpm" yaml:"rate_limit_rpm"`
	RateBurst    int    `json:"rate_burst" yaml:"rate_burst"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes"`

	// Per-session turn queueing; see internal/scheduler.
	MaxConcurrentTurns int    `json:"max_concurrent_turns" yaml:"max_concurrent_turns"`
	SessionQueueCap    int    `json:"session_queue_cap" yaml:"session_queue_cap"`
	SessionQueueDrop   string `json:"session_queue_drop" yaml:"session_queue_drop"` // new, old
}

// DatabaseConfig configures the queried PostgreSQL database.
type DatabaseConfig struct {
	Driver             string   `json:"driver" yaml:"driver"` // "pgx" (default) or "postgres" (lib/pq)
	DSN                string   `json:"dsn" yaml:"dsn"`
	MaxOpenConns       int      `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns       int      `json:"max_idle_conns" yaml:"max_idle_conns"`
	StatementTimeoutMS int      `json:"statement_timeout_ms" yaml:"statement_timeout_ms"`
	MaxRows            int      `json:"max_rows" yaml:"max_rows"`
	Schemas            []string `json:"schemas" yaml:"schemas"`
}

// ProviderConfig selects the LLM backend.
type ProviderConfig struct {
	Name        string  `json:"name" yaml:"name"` // "openai" or "anthropic"
	APIKey      string  `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model       string  `json:"model" yaml:"model"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// AgentConfig holds agent loop settings. These are hot-reloadable.
type AgentConfig struct {
	MaxIterations    int    `json:"max_iterations" yaml:"max_iterations"`
	SystemPromptFile string `json:"system_prompt_file,omitempty" yaml:"system_prompt_file,omitempty"`
	InjectionAction  string `json:"injection_action" yaml:"injection_action"` // log, warn, block, off
	ToolRatePerHour  int    `json:"tool_rate_per_hour" yaml:"tool_rate_per_hour"`
	Timezone         string `json:"timezone" yaml:"timezone"`
}

// MemoryConfig configures the long-term memory backend.
type MemoryConfig struct {
	Backend           string          `json:"backend" yaml:"backend"` // agentcore, sqlite, none
	MemoryID          string          `json:"memory_id,omitempty" yaml:"memory_id,omitempty"`
	SQLitePath        string          `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
	ActorPrefix       string          `json:"actor_prefix" yaml:"actor_prefix"`
	Namespaces        NamespaceConfig `json:"namespaces" yaml:"namespaces"`
	TopK              int             `json:"top_k" yaml:"top_k"`
	MinScore          float64         `json:"min_score" yaml:"min_score"`
	RetrieveTimeoutMS int             `json:"retrieve_timeout_ms" yaml:"retrieve_timeout_ms"`
	CacheTTLSeconds   int             `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
}

// NamespaceConfig holds namespace templates. Placeholders: {actorId}, {sessionId}.
type NamespaceConfig struct {
	Preferences string `json:"preferences" yaml:"preferences"`
	Summaries   string `json:"summaries" yaml:"summaries"`
	Semantic    string `json:"semantic" yaml:"semantic"`
}

// HistoryConfig configures short-term session history.
type HistoryConfig struct {
	Backend      string `json:"backend" yaml:"backend"` // memory, redis
	RedisURL     string `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	MaxTurns     int    `json:"max_turns" yaml:"max_turns"`
	ContextTurns int    `json:"context_turns" yaml:"context_turns"`
	TTLMinutes   int    `json:"ttl_minutes" yaml:"ttl_minutes"`
	// EncryptionKey seals redis entries with AES-256-GCM when set.
	EncryptionKey string `json:"encryption_key,omitempty" yaml:"encryption_key,omitempty"`
}

// ContextConfig bounds the prompt context assembled before each turn.
type ContextConfig struct {
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens"`
	Encoding  string `json:"encoding" yaml:"encoding"`
}

// KnowledgeConfig enables the knowledge base search tool when BaseID is set.
type KnowledgeConfig struct {
	BaseID     string  `json:"base_id,omitempty" yaml:"base_id,omitempty"`
	MaxResults int     `json:"max_results" yaml:"max_results"`
	MinScore   float64 `json:"min_score" yaml:"min_score"`
}

// AWSConfig holds credentials for AgentCore memory and the knowledge base.
// Empty credentials fall back to the default AWS credential chain.
type AWSConfig struct {
	Region          string `json:"region" yaml:"region"`
	Profile         string `json:"profile,omitempty" yaml:"profile,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty" yaml:"session_token,omitempty"`
	MaxAttempts     int    `json:"max_attempts" yaml:"max_attempts"`
}

// TelemetryConfig configures OTLP trace export (requires -tags otel).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Insecure    bool              `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // text, json
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			RateLimitRPM: 60,
			RateBurst:    10,
			MaxBodyBytes: 1 << 20,

			MaxConcurrentTurns: 8,
			SessionQueueCap:    4,
			SessionQueueDrop:   "new",
		},
		Database: DatabaseConfig{
			Driver:             "pgx",
			MaxOpenConns:       10,
			MaxIdleConns:       5,
			StatementTimeoutMS: 15000,
			MaxRows:            200,
			Schemas:            []string{"public"},
		},
		Provider: ProviderConfig{
			Name:        "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   1000,
			Temperature: 0.7,
		},
		Agent: AgentConfig{
			MaxIterations:   8,
			InjectionAction: "warn",
			ToolRatePerHour: 300,
			Timezone:        "UTC",
		},
		Memory: MemoryConfig{
			Backend:     "none",
			ActorPrefix: "customer_",
			Namespaces: NamespaceConfig{
				Preferences: "/preferences/{actorId}",
				Summaries:   "/summaries/{actorId}/{sessionId}",
				Semantic:    "/facts/{actorId}",
			},
			TopK:              5,
			MinScore:          0.1,
			RetrieveTimeoutMS: 5000,
			CacheTTLSeconds:   30,
		},
		History: HistoryConfig{
			Backend:      "memory",
			MaxTurns:     10,
			ContextTurns: 3,
			TTLMinutes:   24 * 60,
		},
		Context: ContextConfig{
			MaxTokens: 3000,
			Encoding:  "cl100k_base",
		},
		Knowledge: KnowledgeConfig{
			MaxResults: 15,
			MinScore:   0.1,
		},
		AWS: AWSConfig{
			Region:      "us-east-1",
			MaxAttempts: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		CacheDir: "~/.querydesk",
	}
}

// Load reads the config file at path (if it exists), loads .env from the
// working directory, then applies environment overrides and validates.
// A missing config file is not an error: defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(ExpandHome(path))
		switch {
		case err == nil:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// .env is optional; existing env vars win over it.
	_ = godotenv.Load()

	cfg.applyEnv(os.Getenv)
	cfg.resolveSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

// Save writes the config as indented JSON (valid JSON5) or YAML by extension.
func Save(path string, cfg *Config) error {
	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = marshalJSON(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks enumerations and required fields for the selected backends.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("provider.name: unsupported provider %q", c.Provider.Name)
	}
	switch c.Database.Driver {
	case "pgx", "postgres":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	switch c.Memory.Backend {
	case "none", "sqlite":
	case "agentcore":
		if c.Memory.MemoryID == "" {
			return errors.New("memory.memory_id is required for the agentcore backend")
		}
	default:
		return fmt.Errorf("memory.backend: unsupported backend %q", c.Memory.Backend)
	}
	switch c.History.Backend {
	case "memory":
	case "redis":
		if c.History.RedisURL == "" {
			return errors.New("history.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("history.backend: unsupported backend %q", c.History.Backend)
	}
	switch c.Server.SessionQueueDrop {
	case "", "new", "old":
	default:
		return fmt.Errorf("server.session_queue_drop: unsupported policy %q", c.Server.SessionQueueDrop)
	}
	switch c.Agent.InjectionAction {
	case "log", "warn", "block", "off":
	default:
		return fmt.Errorf("agent.injection_action: unsupported action %q", c.Agent.InjectionAction)
	}
	if c.Database.MaxRows <= 0 {
		return errors.New("database.max_rows must be positive")
	}
	if c.History.MaxTurns <= 0 {
		return errors.New("history.max_turns must be positive")
	}
	if c.History.ContextTurns > c.History.MaxTurns {
		c.History.ContextTurns = c.History.MaxTurns
	}
	return nil
}

// ResolvedCacheDir returns the expanded cache directory, creating it if needed.
func (c *Config) ResolvedCacheDir() (string, error) {
	dir := ExpandHome(c.CacheDir)
	if dir == "" {
		return "", errors.New("cache_dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	return dir, nil
}

// ResolvedSQLitePath returns the local memory database path, defaulting to
// memory.db inside the cache directory.
func (c *Config) ResolvedSQLitePath() (string, error) {
	if c.Memory.SQLitePath != "" {
		return ExpandHome(c.Memory.SQLitePath), nil
	}
	dir, err := c.ResolvedCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "memory.db"), nil
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
