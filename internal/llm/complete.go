package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/loqalabs/podcraft/internal/config"
)

// minCompletionLength is the shortest completion treated as a real answer.
const minCompletionLength = 2

// Complete runs one blocking completion and returns the concatenated text.
func Complete(ctx context.Context, gen Generator, req Request) (string, error) {
	var text strings.Builder
	err := gen.Generate(ctx, req, func(chunk Chunk) error {
		text.WriteString(chunk.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(text.String())
	if len(out) < minCompletionLength {
		return "", ErrEmptyCompletion
	}
	return out, nil
}

// New builds the backend selected by cfg.Mode.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "openrouter":
		return NewOpenRouterGenerator(cfg.Endpoint, apiKey(cfg, "OPENROUTER_API_KEY"), cfg.Title, cfg.Model), nil
	case "gemini":
		key := apiKey(cfg, "GEMINI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("gemini mode requires an API key")
		}
		return NewGeminiGenerator(ctx, key, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

func apiKey(cfg config.LLMConfig, fallbackEnv string) string {
	if cfg.APIKeyEnv != "" {
		if v := os.Getenv(cfg.APIKeyEnv); v != "" {
			return v
		}
	}
	return os.Getenv(fallbackEnv)
}
