package voice

import "github.com/loqalabs/podcraft/internal/config"

// Conditioning keys the model can be told to ignore.
const (
	KeySpeaker       = "speaker"
	KeyEmotion       = "emotion"
	KeyVQScore       = "vqscore_8"
	KeyFMax          = "fmax"
	KeyPitchStd      = "pitch_std"
	KeySpeakingRate  = "speaking_rate"
	KeyDNSMOSOverall = "dnsmos_ovrl"
	KeySpeakerNoised = "speaker_noised"
)

// VQChannels is the width of the vq score tensor.
const VQChannels = 8

// Params are the conditioning values shared by every line spoken with a voice.
type Params struct {
	LanguageCode      string
	Emotion           [8]float64
	VQScore           [VQChannels]float64
	FMax              float64
	PitchStd          float64
	SpeakingRate      float64
	DNSMOSOverall     float64
	SpeakerNoised     bool
	UnconditionalKeys []string
}

// ParamsFromConfig derives per-voice params from the conditioning section.
func ParamsFromConfig(cfg config.ConditioningConfig) Params {
	p := Params{
		LanguageCode:      cfg.LanguageCode,
		Emotion:           cfg.Emotion.Vector(),
		FMax:              cfg.Params.FMax,
		PitchStd:          cfg.Params.PitchStd,
		SpeakingRate:      cfg.Params.SpeakingRate,
		DNSMOSOverall:     cfg.Params.DNSMOSOverall,
		SpeakerNoised:     cfg.SpeakerNoised,
		UnconditionalKeys: UnconditionalKeys(cfg.Unconditional),
	}
	for i := range p.VQScore {
		p.VQScore[i] = cfg.Params.VQScore
	}
	return p
}

// UnconditionalKeys lists the enabled toggles in a stable order.
func UnconditionalKeys(t config.UnconditionalToggles) []string {
	toggles := []struct {
		on  bool
		key string
	}{
		{t.SkipSpeaker, KeySpeaker},
		{t.SkipEmotion, KeyEmotion},
		{t.SkipVQScore, KeyVQScore},
		{t.SkipFMax, KeyFMax},
		{t.SkipPitchStd, KeyPitchStd},
		{t.SkipSpeakingRate, KeySpeakingRate},
		{t.SkipDNSMOSOverall, KeyDNSMOSOverall},
		{t.SkipSpeakerNoised, KeySpeakerNoised},
	}
	keys := []string{}
	for _, tg := range toggles {
		if tg.on {
			keys = append(keys, tg.key)
		}
	}
	return keys
}
