package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName  string             `yaml:"runtime_name"`
	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Bus          BusConfig          `yaml:"bus"`
	EventStore   EventStoreConfig   `yaml:"event_store"`
	LLM          LLMConfig          `yaml:"llm"`
	TTS          TTSConfig          `yaml:"tts"`
	Conditioning ConditioningConfig `yaml:"conditioning"`
	Podcast      PodcastConfig      `yaml:"podcast"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, exec, openrouter, gemini
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Title       string  `yaml:"title"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	Model      string `yaml:"model"`
	SampleRate int    `yaml:"sample_rate"`
}

// ConditioningParams are the acoustic targets applied to every voice.
type ConditioningParams struct {
	DNSMOSOverall float64 `yaml:"dnsmos_ovrl"`
	VQScore       float64 `yaml:"vq_score"`
	FMax          float64 `yaml:"fmax"`
	PitchStd      float64 `yaml:"pitch_std"`
	SpeakingRate  float64 `yaml:"speaking_rate"`
}

// UnconditionalToggles select conditioning channels the model should ignore.
type UnconditionalToggles struct {
	SkipSpeaker       bool `yaml:"skip_speaker"`
	SkipEmotion       bool `yaml:"skip_emotion"`
	SkipVQScore       bool `yaml:"skip_vqscore_8"`
	SkipFMax          bool `yaml:"skip_fmax"`
	SkipPitchStd      bool `yaml:"skip_pitch_std"`
	SkipSpeakingRate  bool `yaml:"skip_speaking_rate"`
	SkipDNSMOSOverall bool `yaml:"skip_dnsmos_ovrl"`
	SkipSpeakerNoised bool `yaml:"skip_speaker_noised"`
}

type EmotionDefaults struct {
	Happiness float64 `yaml:"happiness"`
	Sadness   float64 `yaml:"sadness"`
	Disgust   float64 `yaml:"disgust"`
	Fear      float64 `yaml:"fear"`
	Surprise  float64 `yaml:"surprise"`
	Anger     float64 `yaml:"anger"`
	Other     float64 `yaml:"other"`
	Neutral   float64 `yaml:"neutral"`
}

// Vector returns the defaults in model channel order.
func (e EmotionDefaults) Vector() [8]float64 {
	return [8]float64{e.Happiness, e.Sadness, e.Disgust, e.Fear, e.Surprise, e.Anger, e.Other, e.Neutral}
}

type GenerationParams struct {
	CFGScale float64 `yaml:"cfg_scale"`
	MinP     float64 `yaml:"min_p"`
	Seed     int64   `yaml:"seed"`
}

type ConditioningConfig struct {
	LanguageCode  string               `yaml:"language_code"`
	SpeakerNoised bool                 `yaml:"speaker_noised"`
	Params        ConditioningParams   `yaml:"params"`
	Unconditional UnconditionalToggles `yaml:"unconditional"`
	Emotion       EmotionDefaults      `yaml:"emotion"`
	Generation    GenerationParams     `yaml:"generation"`
}

type PodcastConfig struct {
	VoicesDir       string         `yaml:"voices_dir"`
	OutputDir       string         `yaml:"output_dir"`
	PromptsFile     string         `yaml:"prompts_file"`
	SilencePath     string         `yaml:"silence_path"`
	OverlapMS       int            `yaml:"overlap_ms"`
	DurationMinutes int            `yaml:"duration_minutes"`
	NumSpeakers     int            `yaml:"num_speakers"`
	DefaultVoices   map[int]string `yaml:"default_voices"`
	PollInterval    time.Duration  `yaml:"poll_interval"`
}

func Default() Config {
	return Config{
		RuntimeName: "podcraftd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/podcraft-jobs.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxJobs:       1000,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "https://openrouter.ai/api/v1",
			Model:       "deepseek/deepseek-chat:free",
			APIKeyEnv:   "OPENROUTER_API_KEY",
			Title:       "Open-PodCraft",
			MaxTokens:   0,
			Temperature: 0.7,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			Model:      "Zyphra/Zonos-v0.1-hybrid",
			SampleRate: 44100,
		},
		Conditioning: ConditioningConfig{
			LanguageCode:  "en-us",
			SpeakerNoised: false,
			Params: ConditioningParams{
				DNSMOSOverall: 3,
				VQScore:       0.72,
				FMax:          22050,
				PitchStd:      300,
				SpeakingRate:  15,
			},
			Unconditional: UnconditionalToggles{
				SkipSpeakingRate: true,
			},
			Emotion: EmotionDefaults{
				Happiness: 0.6,
				Sadness:   0.05,
				Disgust:   0.05,
				Fear:      0.05,
				Surprise:  0.05,
				Anger:     0.05,
				Other:     0.05,
				Neutral:   0.05,
			},
			Generation: GenerationParams{
				CFGScale: 3.5,
				MinP:     0,
				Seed:     421,
			},
		},
		Podcast: PodcastConfig{
			VoicesDir:       "assets/voices",
			OutputDir:       "static/audio_outputs",
			PromptsFile:     "assets/prompts.yaml",
			SilencePath:     "assets/voices/silence_100ms.wav",
			OverlapMS:       100,
			DurationMinutes: 10,
			NumSpeakers:     2,
			DefaultVoices: map[int]string{
				1: "zonos_americanmale",
				2: "zonos_britishfemale",
			},
			PollInterval: 100 * time.Millisecond,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "PODCRAFT_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PODCRAFT_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PODCRAFT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PODCRAFT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PODCRAFT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PODCRAFT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PODCRAFT_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "PODCRAFT_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "PODCRAFT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PODCRAFT_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "PODCRAFT_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "PODCRAFT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PODCRAFT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PODCRAFT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PODCRAFT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PODCRAFT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PODCRAFT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "PODCRAFT_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "PODCRAFT_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "PODCRAFT_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxJobs, "PODCRAFT_EVENT_STORE_MAX_JOBS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "PODCRAFT_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.LLM.Mode, "PODCRAFT_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "PODCRAFT_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "PODCRAFT_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "PODCRAFT_LLM_MODEL")
	overrideString(&cfg.LLM.APIKeyEnv, "PODCRAFT_LLM_API_KEY_ENV")
	overrideInt(&cfg.LLM.MaxTokens, "PODCRAFT_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "PODCRAFT_LLM_TEMPERATURE")
	overrideString(&cfg.TTS.Mode, "PODCRAFT_TTS_MODE")
	overrideString(&cfg.TTS.Command, "PODCRAFT_TTS_COMMAND")
	overrideString(&cfg.TTS.Model, "PODCRAFT_TTS_MODEL")
	overrideInt(&cfg.TTS.SampleRate, "PODCRAFT_TTS_SAMPLE_RATE")
	overrideString(&cfg.Conditioning.LanguageCode, "PODCRAFT_CONDITIONING_LANGUAGE_CODE")
	overrideInt64(&cfg.Conditioning.Generation.Seed, "PODCRAFT_CONDITIONING_SEED")
	overrideString(&cfg.Podcast.VoicesDir, "PODCRAFT_PODCAST_VOICES_DIR")
	overrideString(&cfg.Podcast.OutputDir, "PODCRAFT_PODCAST_OUTPUT_DIR")
	overrideString(&cfg.Podcast.PromptsFile, "PODCRAFT_PODCAST_PROMPTS_FILE")
	overrideString(&cfg.Podcast.SilencePath, "PODCRAFT_PODCAST_SILENCE_PATH")
	overrideInt(&cfg.Podcast.OverlapMS, "PODCRAFT_PODCAST_OVERLAP_MS")
	overrideDuration(&cfg.Podcast.PollInterval, "PODCRAFT_PODCAST_POLL_INTERVAL")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideDuration(target *time.Duration, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.LLM.Mode {
	case "mock", "ollama", "exec", "openrouter", "gemini":
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec|openrouter|gemini")
	}
	if (cfg.LLM.Mode == "ollama" || cfg.LLM.Mode == "openrouter") && cfg.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint must be set when mode=%s", cfg.LLM.Mode)
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.Podcast.VoicesDir == "" {
		return errors.New("podcast.voices_dir must not be empty")
	}
	if cfg.Podcast.OutputDir == "" {
		return errors.New("podcast.output_dir must not be empty")
	}
	if cfg.Podcast.OverlapMS <= 0 {
		return errors.New("podcast.overlap_ms must be positive")
	}
	if cfg.Podcast.NumSpeakers <= 0 {
		return errors.New("podcast.num_speakers must be positive")
	}
	if cfg.Podcast.DurationMinutes <= 0 {
		return errors.New("podcast.duration_minutes must be positive")
	}
	if cfg.Podcast.PollInterval <= 0 {
		return errors.New("podcast.poll_interval must be positive")
	}
	return nil
}
