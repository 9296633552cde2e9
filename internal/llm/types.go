package llm

import (
	"context"
	"errors"
	"time"

	"github.com/loqalabs/podcraft/internal/config"
)

// Roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyCompletion is returned by Complete when the backend produced no usable text.
var ErrEmptyCompletion = errors.New("llm returned an empty completion")

// Message is one turn of a chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a chat completion call.
type Request struct {
	JobID       string
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Chunk represents streamed model output.
type Chunk struct {
	JobID            string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// RequestFromConfig builds a request carrying the configured model and sampling defaults.
func RequestFromConfig(cfg config.LLMConfig, messages []Message) Request {
	return Request{
		Model:       cfg.Model,
		Messages:    messages,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}
