package config

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService is the OS keyring service name used for stored API keys.
const KeyringService = "querydesk"

// getenvFunc matches os.Getenv; injected for tests.
type getenvFunc func(string) string

// applyEnv overlays environment variables onto the config.
// QUERYDESK_* variables win over the well-known vendor variables.
func (c *Config) applyEnv(getenv getenvFunc) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	num := func(dst *int, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				slog.Warn("config: ignoring non-numeric env", "key", key, "value", v)
			}
		}
	}

	str(&c.Server.Host, "QUERYDESK_HOST")
	num(&c.Server.Port, "QUERYDESK_PORT")
	str(&c.Server.Token, "QUERYDESK_TOKEN")

	str(&c.Database.DSN, "QUERYDESK_DATABASE_DSN", "DATABASE_URL")
	str(&c.Database.Driver, "QUERYDESK_DATABASE_DRIVER")
	num(&c.Database.MaxRows, "QUERYDESK_MAX_ROWS")

	str(&c.Provider.Name, "QUERYDESK_PROVIDER")
	str(&c.Provider.Model, "QUERYDESK_MODEL")
	str(&c.Provider.BaseURL, "QUERYDESK_PROVIDER_BASE_URL")
	str(&c.Provider.APIKey, "QUERYDESK_API_KEY")
	if c.Provider.APIKey == "" {
		switch c.Provider.Name {
		case "anthropic":
			str(&c.Provider.APIKey, "ANTHROPIC_API_KEY")
		default:
			str(&c.Provider.APIKey, "OPENAI_API_KEY")
		}
	}

	str(&c.Memory.Backend, "QUERYDESK_MEMORY_BACKEND")
	str(&c.Memory.MemoryID, "QUERYDESK_MEMORY_ID", "AGENTCORE_MEMORY_ID")
	if c.Memory.MemoryID != "" && getenv("QUERYDESK_MEMORY_BACKEND") == "" && c.Memory.Backend == "none" {
		c.Memory.Backend = "agentcore"
	}

	str(&c.History.RedisURL, "QUERYDESK_REDIS_URL", "REDIS_URL")
	if c.History.RedisURL != "" && getenv("QUERYDESK_HISTORY_BACKEND") == "" && c.History.Backend == "memory" {
		c.History.Backend = "redis"
	}
	str(&c.History.Backend, "QUERYDESK_HISTORY_BACKEND")
	str(&c.History.EncryptionKey, "QUERYDESK_HISTORY_KEY")

	str(&c.Knowledge.BaseID, "QUERYDESK_KNOWLEDGE_BASE_ID", "KNOWLEDGE_BASE_ID")

	str(&c.AWS.Region, "QUERYDESK_AWS_REGION", "AWS_REGION", "AWS_DEFAULT_REGION")
	str(&c.AWS.Profile, "AWS_PROFILE")

	str(&c.Log.Level, "QUERYDESK_LOG_LEVEL")
	str(&c.Log.Format, "QUERYDESK_LOG_FORMAT")
	str(&c.CacheDir, "QUERYDESK_CACHE_DIR")
}

// resolveSecrets fills a missing provider API key from the OS keyring.
// Keyring errors (no keyring daemon, headless hosts) are not fatal.
func (c *Config) resolveSecrets() {
	if c.Provider.APIKey != "" {
		return
	}
	key, err := keyring.Get(KeyringService, c.Provider.Name)
	if err != nil {
		if err != keyring.ErrNotFound {
			slog.Debug("config: keyring unavailable", "error", err)
		}
		return
	}
	c.Provider.APIKey = key
}

// StoreAPIKey saves a provider API key in the OS keyring.
func StoreAPIKey(provider, key string) error {
	return keyring.Set(KeyringService, provider, key)
}

// Redacted returns a copy of the config with secrets masked, for display.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Server.Token = mask(cp.Server.Token)
	cp.Provider.APIKey = mask(cp.Provider.APIKey)
	cp.AWS.SecretAccessKey = mask(cp.AWS.SecretAccessKey)
	cp.AWS.SessionToken = mask(cp.AWS.SessionToken)
	cp.Database.DSN = maskDSN(cp.Database.DSN)
	cp.History.RedisURL = maskDSN(cp.History.RedisURL)
	cp.History.EncryptionKey = mask(cp.History.EncryptionKey)
	return &cp
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***"
}

// maskDSN hides the password component of a URL-style DSN.
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		return dsn[:scheme+3] + creds[:i] + ":***" + dsn[at:]
	}
	return dsn
}

func marshalJSON(cfg *Config) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
