package tts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/loqalabs/podcraft/internal/audio"
	"github.com/loqalabs/podcraft/internal/config"
	"github.com/loqalabs/podcraft/internal/podcast"
	"github.com/loqalabs/podcraft/internal/voice"
)

type recordingModel struct {
	rate     int
	encoded  [][]float32
	requests []ConditioningRequest
	err      error
	output   []float32
}

func (m *recordingModel) SampleRate() int { return m.rate }

func (m *recordingModel) Embed(ctx context.Context, samples []float32, sampleRate int) ([]float32, error) {
	return []float32{1}, nil
}

func (m *recordingModel) EncodePrefix(ctx context.Context, samples []float32) (EncodedPrefix, error) {
	m.encoded = append(m.encoded, samples)
	return EncodedPrefix{byte(len(samples))}, nil
}

func (m *recordingModel) Synthesize(ctx context.Context, req ConditioningRequest) ([]float32, error) {
	m.requests = append(m.requests, req)
	return m.output, m.err
}

func testProfile() voice.Profile {
	return voice.Profile{
		Name:      "host",
		Embedding: []float32{0.5, 0.25},
		Params:    voice.ParamsFromConfig(config.Default().Conditioning),
	}
}

func TestLineEmotionUsesSixChannelsPlusFillers(t *testing.T) {
	line := podcast.ScriptLine{Emotion: []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2}}
	v := LineEmotion(line, testProfile().Params)
	want := [8]float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, EmotionFiller, EmotionFiller}
	if v != want {
		t.Fatalf("expected %v, got %v", want, v)
	}
}

func TestLineEmotionFallsBackToVoiceDefaults(t *testing.T) {
	line := podcast.ScriptLine{Emotion: []float64{0.2, 0.3}}
	v := LineEmotion(line, testProfile().Params)
	want := [8]float64{0.2, 0.3, 0.05, 0.05, 0.05, 0.05, EmotionFiller, EmotionFiller}
	if v != want {
		t.Fatalf("expected %v, got %v", want, v)
	}
}

func TestRequestCarriesVoiceParams(t *testing.T) {
	synth := NewLineSynthesizer(&recordingModel{rate: 44100}, config.Default().Conditioning.Generation)
	req := synth.Request(podcast.ScriptLine{Content: "hello"}, testProfile(), EncodedPrefix{1, 2})

	if req.Seed != 421 || req.CFGScale != 3.5 {
		t.Fatalf("unexpected generation params: %+v", req)
	}
	for _, v := range req.VQScore {
		if v != 0.72 {
			t.Fatalf("unexpected vq score: %v", req.VQScore)
		}
	}
	if len(req.UnconditionalKeys) != 1 || req.UnconditionalKeys[0] != voice.KeySpeakingRate {
		t.Fatalf("unexpected unconditional keys: %v", req.UnconditionalKeys)
	}
	if req.Text != "hello" || len(req.Prefix) != 2 || len(req.Speaker) != 2 {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestSynthesizeWrapsErrors(t *testing.T) {
	cause := errors.New("cuda out of memory")
	model := &recordingModel{rate: 44100, err: cause}
	synth := NewLineSynthesizer(model, config.GenerationParams{})

	_, err := synth.Synthesize(context.Background(), 3, podcast.ScriptLine{Speaker: "Speaker 2", Content: "x"}, testProfile(), nil)
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) || synthErr.Line != 3 {
		t.Fatalf("expected *SynthesisError for line 3, got %v", err)
	}
	if !errors.Is(err, ErrSynthesis) || !errors.Is(err, cause) {
		t.Fatalf("expected error to match ErrSynthesis and cause, got %v", err)
	}
	if len(model.requests) != 1 {
		t.Fatalf("synthesis must not be retried, got %d calls", len(model.requests))
	}

	model.err = nil
	if _, err := synth.Synthesize(context.Background(), 0, podcast.ScriptLine{}, testProfile(), nil); !errors.Is(err, ErrSynthesis) {
		t.Fatalf("empty output should fail, got %v", err)
	}
}

func TestPrefixExtractorResamplesTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seq_0.wav")
	if err := audio.WriteWAV(path, audio.Segment{Samples: make([]float32, 16000), SampleRate: 16000}); err != nil {
		t.Fatal(err)
	}
	model := &recordingModel{rate: 8000}
	ex := NewPrefixExtractor(model)

	if _, err := ex.Extract(context.Background(), path, 100); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(model.encoded) != 1 || len(model.encoded[0]) != 800 {
		t.Fatalf("expected 800 samples at model rate, got %v", len(model.encoded[0]))
	}

	if _, err := ex.Extract(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), 100); !errors.Is(err, audio.ErrAudioRead) {
		t.Fatalf("expected ErrAudioRead, got %v", err)
	}
}

func TestMockModelIsDeterministicAndPrependsPrefix(t *testing.T) {
	model := NewMockModel(8000)
	ctx := context.Background()
	prefix, err := model.EncodePrefix(ctx, []float32{0.5, -0.5, 0.25})
	if err != nil {
		t.Fatal(err)
	}
	req := ConditioningRequest{Text: "hello there", Prefix: prefix, Seed: 421}
	a, err := model.Synthesize(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := model.Synthesize(ctx, req)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs", i)
		}
	}
	if a[0] != 0.5 || a[1] != -0.5 || a[2] != 0.25 {
		t.Fatalf("output should start with prefix, got %v", a[:3])
	}
}

func TestNewSelectsModel(t *testing.T) {
	cfg := config.Default().TTS
	m, err := New(cfg)
	if err != nil || m.SampleRate() != 44100 {
		t.Fatalf("unexpected model: %v %v", m, err)
	}
	cfg.Mode = "exec"
	cfg.Command = ""
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for empty exec command")
	}
}
