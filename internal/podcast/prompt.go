package podcast

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loqalabs/podcraft/internal/llm"
)

// Prompt is a reusable script-writing instruction set.
type Prompt struct {
	Name    string `yaml:"name" json:"name"`
	Rules   string `yaml:"rules" json:"rules"`
	Context string `yaml:"context" json:"context"`
}

// DefaultPrompt is used when no prompts file is available.
var DefaultPrompt = Prompt{
	Name: "default",
	Rules: `Write a conversational podcast between the speakers based only on the chapters.
Every line must use exactly this format on a single line:
Speaker <id>: Emotion: [happiness, sadness, disgust, fear, surprise, anger, other, neutral] context: <spoken text>
Emotion values are floats between 0 and 1. Do not add headings, notes or stage directions.`,
	Context: "Explain the chapters to a curious listener in a friendly and engaging way.",
}

// Settings are the user-controlled inputs to script generation.
type Settings struct {
	DurationMinutes int    `json:"duration_minutes"`
	NumSpeakers     int    `json:"num_speakers"`
	UserPrompt      string `json:"user_prompt"`
}

// LoadPrompts reads a YAML list of prompts. A missing file yields DefaultPrompt.
func LoadPrompts(path string) ([]Prompt, error) {
	if path == "" {
		return []Prompt{DefaultPrompt}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Prompt{DefaultPrompt}, nil
		}
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	var prompts []Prompt
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	if len(prompts) == 0 {
		return []Prompt{DefaultPrompt}, nil
	}
	return prompts, nil
}

// BuildMessages renders the chat exchange sent to the LLM for one script job.
func BuildMessages(chapters string, prompt Prompt, settings Settings) []llm.Message {
	userPrompt := strings.TrimSpace(settings.UserPrompt)
	if userPrompt == "" {
		userPrompt = "No additional requirements"
	}
	return []llm.Message{
		{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Chapters: \n %s \n end of chapters", chapters),
		},
		{
			Role: llm.RoleUser,
			Content: fmt.Sprintf("rules: \n %s PodcastDuration: %d minutes (strict) No of speaker: %d \n end of rules",
				prompt.Rules, settings.DurationMinutes, settings.NumSpeakers),
		},
		{
			Role: llm.RoleUser,
			Content: fmt.Sprintf("Prompt: \n %s \n Additional Requirements (strict): %s \n \n end of prompt",
				prompt.Context, userPrompt),
		},
	}
}
