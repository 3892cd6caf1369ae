package llm

import (
	"fmt"
	"log/slog"
)

// New returns the client for a provider name: "openai" for any
// OpenAI-compatible server or "ollama" for Ollama's native API.
func New(provider string, cfg OpenAIConfig, logger *slog.Logger) (Client, error) {
	switch provider {
	case "", "openai":
		return NewOpenAIClient(cfg, logger), nil
	case "ollama":
		return NewOllamaClient(cfg.URL, cfg.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
}
