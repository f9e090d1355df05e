package llms

import (
	"fmt"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/registry"
)

// ProviderRegistry holds named LLM providers.
type ProviderRegistry struct {
	registry.Registry[Provider]
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		Registry: registry.NewBaseRegistry[Provider](),
	}
}

// CreateProvider builds a provider from its config.
func CreateProvider(cfg *config.LLMProviderConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "gemini":
		return NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Type)
	}
}

// BuildChain constructs the fallback chain from the ordered provider
// list in the config.
func BuildChain(cfg *config.LLMConfig) (*Chain, error) {
	providers := make([]Provider, 0, len(cfg.Providers))
	for i, pc := range cfg.Providers {
		p, err := CreateProvider(pc)
		if err != nil {
			return nil, fmt.Errorf("provider %d (%s): %w", i, pc.Type, err)
		}
		providers = append(providers, p)
	}
	return NewChain(providers, cfg), nil
}
