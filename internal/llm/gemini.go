package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-1.5-flash"

type geminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator opens a Gemini client. The returned generator implements io.Closer.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (Generator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &geminiGenerator{client: client, model: model}, nil
}

func (g *geminiGenerator) Close() error {
	return g.client.Close()
}

func (g *geminiGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	name := req.Model
	if name == "" || strings.Contains(name, "/") {
		name = g.model
	}
	model := g.client.GenerativeModel(name)
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	var parts []genai.Part
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(msg.Content)}}
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}

	start := time.Now()
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return fmt.Errorf("gemini generate: %w", err)
	}

	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				text.WriteString(string(txt))
			}
		}
		break
	}

	chunk := Chunk{
		JobID:   req.JobID,
		Content: text.String(),
		Latency: time.Since(start),
	}
	if resp.UsageMetadata != nil {
		chunk.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		chunk.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return consumer(chunk)
}
