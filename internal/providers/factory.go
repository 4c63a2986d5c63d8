package providers

import (
	"fmt"

	"github.com/nextlevelbuilder/querydesk/internal/config"
)

// New builds the provider selected by provider.name.
func New(cfg config.ProviderConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: api key is not configured (set it in config, env or run `querydesk onboard`)", cfg.Name)
	}
	temp := cfg.Temperature
	switch cfg.Name {
	case "", "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens, &temp), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens, &temp), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}
