package llm

import (
	"context"
	"time"
)

// MockScript is the canned completion returned by the mock backend.
const MockScript = `Speaker 1: Emotion: [0.7, 0.05, 0.05, 0.05, 0.1, 0.05, 0.0, 0.0] context: Welcome back to the show. Today we are walking through the chapters you sent us.
Speaker 2: Emotion: [0.6, 0.05, 0.05, 0.05, 0.2, 0.05, 0.0, 0.0] context: Thanks for having me. There is a lot to unpack, so let us start at the beginning.
Speaker 1: Emotion: [0.5, 0.05, 0.05, 0.05, 0.3, 0.05, 0.0, 0.0] context: The first chapter sets the scene and introduces the core idea.
Speaker 2: Emotion: [0.6, 0.05, 0.05, 0.05, 0.1, 0.05, 0.0, 0.1] context: And the rest of the book builds on that idea, one step at a time.`

type mockGenerator struct {
	content string
	delay   time.Duration
}

func NewMockGenerator() Generator { return &mockGenerator{content: MockScript, delay: 20 * time.Millisecond} }

// NewStaticGenerator returns a backend that always completes with content after delay.
func NewStaticGenerator(content string, delay time.Duration) Generator {
	return &mockGenerator{content: content, delay: delay}
}

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.delay):
	}
	return consumer(Chunk{
		JobID:   req.JobID,
		Content: m.content,
		Partial: false,
		Latency: m.delay,
	})
}
