package tts

import (
	"context"
	"errors"
	"fmt"
)

// ErrSynthesis marks a failed model call for a script line.
var ErrSynthesis = errors.New("synthesis failed")

// SynthesisError reports the line that failed. It matches ErrSynthesis and the cause.
type SynthesisError struct {
	Line    int
	Speaker string
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesize line %d (%s): %v", e.Line, e.Speaker, e.Err)
}

func (e *SynthesisError) Unwrap() []error {
	return []error{ErrSynthesis, e.Err}
}

// EncodedPrefix is the model's encoding of the audio a new line continues from.
type EncodedPrefix []byte

// ConditioningRequest is everything the model needs to speak one line.
type ConditioningRequest struct {
	Text              string     `json:"text"`
	LanguageCode      string     `json:"language_code"`
	Speaker           []float32  `json:"speaker"`
	Emotion           [8]float64 `json:"emotion"`
	VQScore           [8]float64 `json:"vqscore_8"`
	FMax              float64    `json:"fmax"`
	PitchStd          float64    `json:"pitch_std"`
	SpeakingRate      float64    `json:"speaking_rate"`
	DNSMOSOverall     float64    `json:"dnsmos_ovrl"`
	SpeakerNoised     bool       `json:"speaker_noised"`
	UnconditionalKeys []string   `json:"unconditional_keys"`
	Prefix            []byte     `json:"audio_prefix_codes,omitempty"`
	CFGScale          float64    `json:"cfg_scale"`
	MinP              float64    `json:"min_p"`
	Seed              int64      `json:"seed"`
}

// Model is the speech model contract. Samples are mono in [-1, 1].
type Model interface {
	SampleRate() int
	Embed(ctx context.Context, samples []float32, sampleRate int) ([]float32, error)
	EncodePrefix(ctx context.Context, samples []float32) (EncodedPrefix, error)
	Synthesize(ctx context.Context, req ConditioningRequest) ([]float32, error)
}
