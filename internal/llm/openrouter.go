package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// openRouterGenerator talks to any OpenAI-compatible /chat/completions endpoint.
type openRouterGenerator struct {
	endpoint string
	apiKey   string
	title    string
	model    string
	client   *http.Client
}

func NewOpenRouterGenerator(endpoint, apiKey, title, model string) Generator {
	return &openRouterGenerator{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		title:    title,
		model:    model,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (g *openRouterGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	model := req.Model
	if model == "" {
		model = g.model
	}
	body, err := json.Marshal(chatCompletionRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if g.title != "" {
		httpReq.Header.Set("X-Title", g.title)
	}

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chat completion returned status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode chat completion: %w", err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("chat completion failed: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return ErrEmptyCompletion
	}

	return consumer(Chunk{
		JobID:            req.JobID,
		Content:          decoded.Choices[0].Message.Content,
		Partial:          false,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
		Latency:          time.Since(start),
	})
}
