package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Conditioning.Generation.Seed != 421 {
		t.Fatalf("expected default seed 421, got %d", cfg.Conditioning.Generation.Seed)
	}
	if cfg.Podcast.OverlapMS != 100 {
		t.Fatalf("expected default overlap 100ms, got %d", cfg.Podcast.OverlapMS)
	}
	if cfg.Podcast.DefaultVoices[1] != "zonos_americanmale" {
		t.Fatalf("unexpected default voice for speaker 1: %v", cfg.Podcast.DefaultVoices)
	}
	if !cfg.Conditioning.Unconditional.SkipSpeakingRate {
		t.Fatal("expected speaking_rate to be unconditional by default")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podcraft.yaml")
	data := []byte(`
llm:
  mode: openrouter
  model: deepseek/deepseek-r1:free
podcast:
  overlap_ms: 250
  poll_interval: 50ms
  default_voices:
    1: narrator
conditioning:
  params:
    vq_score: 0.8
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Mode != "openrouter" || cfg.LLM.Model != "deepseek/deepseek-r1:free" {
		t.Fatalf("llm section not applied: %+v", cfg.LLM)
	}
	if cfg.Podcast.OverlapMS != 250 {
		t.Fatalf("expected overlap 250, got %d", cfg.Podcast.OverlapMS)
	}
	if cfg.Podcast.PollInterval != 50*time.Millisecond {
		t.Fatalf("expected poll interval 50ms, got %v", cfg.Podcast.PollInterval)
	}
	if cfg.Podcast.DefaultVoices[1] != "narrator" {
		t.Fatalf("expected voice override, got %v", cfg.Podcast.DefaultVoices)
	}
	if cfg.Conditioning.Params.VQScore != 0.8 {
		t.Fatalf("expected vq score 0.8, got %v", cfg.Conditioning.Params.VQScore)
	}
	if cfg.Conditioning.Params.FMax != 22050 {
		t.Fatalf("expected untouched fmax default, got %v", cfg.Conditioning.Params.FMax)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PODCRAFT_BUS_ENABLED", "true")
	t.Setenv("PODCRAFT_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("PODCRAFT_LLM_MODE", "ollama")
	t.Setenv("PODCRAFT_LLM_ENDPOINT", "http://localhost:11434")
	t.Setenv("PODCRAFT_TTS_SAMPLE_RATE", "24000")
	t.Setenv("PODCRAFT_CONDITIONING_SEED", "7")
	t.Setenv("PODCRAFT_PODCAST_OVERLAP_MS", "40")
	t.Setenv("PODCRAFT_PODCAST_POLL_INTERVAL", "250ms")
	t.Setenv("PODCRAFT_EVENT_STORE_MAX_JOBS", "12")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Bus.Enabled {
		t.Fatal("expected bus enabled override")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.LLM.Mode != "ollama" || cfg.LLM.Endpoint != "http://localhost:11434" {
		t.Fatalf("expected llm override, got %+v", cfg.LLM)
	}
	if cfg.TTS.SampleRate != 24000 {
		t.Fatalf("expected sample rate 24000, got %d", cfg.TTS.SampleRate)
	}
	if cfg.Conditioning.Generation.Seed != 7 {
		t.Fatalf("expected seed 7, got %d", cfg.Conditioning.Generation.Seed)
	}
	if cfg.Podcast.OverlapMS != 40 {
		t.Fatalf("expected overlap 40, got %d", cfg.Podcast.OverlapMS)
	}
	if cfg.Podcast.PollInterval != 250*time.Millisecond {
		t.Fatalf("expected poll interval 250ms, got %v", cfg.Podcast.PollInterval)
	}
	if cfg.EventStore.MaxJobs != 12 {
		t.Fatalf("expected max jobs 12, got %d", cfg.EventStore.MaxJobs)
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"llm mode", func(c *Config) { c.LLM.Mode = "gpt" }},
		{"exec without command", func(c *Config) { c.TTS.Mode = "exec" }},
		{"negative overlap", func(c *Config) { c.Podcast.OverlapMS = -1 }},
		{"zero overlap", func(c *Config) { c.Podcast.OverlapMS = 0 }},
		{"retention mode", func(c *Config) { c.EventStore.RetentionMode = "forever" }},
		{"sample rate", func(c *Config) { c.TTS.SampleRate = 0 }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestEmotionDefaultsVectorOrder(t *testing.T) {
	v := Default().Conditioning.Emotion.Vector()
	if v[0] != 0.6 || v[7] != 0.05 {
		t.Fatalf("unexpected emotion vector: %v", v)
	}
}
