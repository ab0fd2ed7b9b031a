package llm

import (
	"errors"
	"fmt"
	"strings"
)

// NewClient builds the adapter for a provider name. Ollama needs no key;
// the other providers refuse to start without one rather than failing on
// the first request.
func NewClient(provider, model, baseURL, apiKey string) (Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("missing model")
	}
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		if strings.TrimSpace(apiKey) == "" {
			return nil, errors.New("missing OpenAI API key (set NAV_API_KEY or OPENAI_API_KEY)")
		}
		return NewOpenAI(model, baseURL, apiKey), nil
	case "anthropic":
		if strings.TrimSpace(apiKey) == "" {
			return nil, errors.New("missing Anthropic API key (set NAV_API_KEY or ANTHROPIC_API_KEY)")
		}
		return NewAnthropic(model, baseURL, apiKey), nil
	case "ollama":
		return NewOllama(model, baseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
}
