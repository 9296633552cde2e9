package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/podcraft/internal/audio"
	"github.com/loqalabs/podcraft/internal/config"
	"github.com/loqalabs/podcraft/internal/podcast"
	"github.com/loqalabs/podcraft/internal/voice"
)

// Lines carry six primary emotions. The model takes eight, so the last two channels
// ("other", "neutral") are filled with a fixed value.
const (
	lineEmotionChannels = 6
	EmotionFiller       = 0.1
)

// LineSynthesizer turns one script line into audio using a resolved voice profile.
type LineSynthesizer struct {
	model Model
	gen   config.GenerationParams
}

func NewLineSynthesizer(model Model, gen config.GenerationParams) *LineSynthesizer {
	return &LineSynthesizer{model: model, gen: gen}
}

func (s *LineSynthesizer) SampleRate() int { return s.model.SampleRate() }

// LineEmotion builds the eight-channel vector for a line. Missing values come from the
// voice defaults.
func LineEmotion(line podcast.ScriptLine, params voice.Params) [8]float64 {
	var v [8]float64
	for i := 0; i < lineEmotionChannels; i++ {
		if i < len(line.Emotion) {
			v[i] = line.Emotion[i]
		} else {
			v[i] = params.Emotion[i]
		}
	}
	v[6] = EmotionFiller
	v[7] = EmotionFiller
	return v
}

// Request assembles the conditioning for a line.
func (s *LineSynthesizer) Request(line podcast.ScriptLine, profile voice.Profile, prefix EncodedPrefix) ConditioningRequest {
	p := profile.Params
	return ConditioningRequest{
		Text:              line.Content,
		LanguageCode:      p.LanguageCode,
		Speaker:           profile.Embedding,
		Emotion:           LineEmotion(line, p),
		VQScore:           p.VQScore,
		FMax:              p.FMax,
		PitchStd:          p.PitchStd,
		SpeakingRate:      p.SpeakingRate,
		DNSMOSOverall:     p.DNSMOSOverall,
		SpeakerNoised:     p.SpeakerNoised,
		UnconditionalKeys: append([]string(nil), p.UnconditionalKeys...),
		Prefix:            prefix,
		CFGScale:          s.gen.CFGScale,
		MinP:              s.gen.MinP,
		Seed:              s.gen.Seed,
	}
}

// Synthesize speaks line index idx. Failures are wrapped in *SynthesisError and not retried.
func (s *LineSynthesizer) Synthesize(ctx context.Context, idx int, line podcast.ScriptLine, profile voice.Profile, prefix EncodedPrefix) (audio.Segment, error) {
	samples, err := s.model.Synthesize(ctx, s.Request(line, profile, prefix))
	if err == nil && len(samples) == 0 {
		err = errors.New("model returned no audio")
	}
	if err != nil {
		return audio.Segment{}, &SynthesisError{Line: idx, Speaker: line.Speaker, Err: err}
	}
	return audio.Segment{Samples: samples, SampleRate: s.model.SampleRate()}, nil
}

// PrefixExtractor encodes the tail of the previous line as the seed for the next one.
type PrefixExtractor struct {
	model Model
}

func NewPrefixExtractor(model Model) *PrefixExtractor {
	return &PrefixExtractor{model: model}
}

// Extract reads the trailing windowMS of path, downmixes it to mono, resamples it to
// the model rate and encodes it.
func (p *PrefixExtractor) Extract(ctx context.Context, path string, windowMS int) (EncodedPrefix, error) {
	clip, err := audio.ReadTail(path, windowMS)
	if err != nil {
		return nil, err
	}
	mono := clip.Mono()
	samples := audio.Resample(mono.Samples, mono.SampleRate, p.model.SampleRate())
	prefix, err := p.model.EncodePrefix(ctx, samples)
	if err != nil {
		return nil, fmt.Errorf("encode prefix from %s: %w", path, err)
	}
	return prefix, nil
}

// New builds the model selected by cfg.Mode.
func New(cfg config.TTSConfig) (Model, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockModel(cfg.SampleRate), nil
	case "exec":
		return NewExecModel(cfg.Command, cfg.Model, cfg.SampleRate)
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
