package podcast

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// EmotionChannels is the number of emotion values the speech model accepts, in order:
// happiness, sadness, disgust, fear, surprise, anger, other, neutral.
const EmotionChannels = 8

// ScriptLine is one spoken line of a podcast script.
type ScriptLine struct {
	Speaker   string    `json:"speaker"`
	SpeakerID int       `json:"speaker_id"`
	Content   string    `json:"content"`
	Emotion   []float64 `json:"emotion_arr"`
}

var (
	speakerPattern = regexp.MustCompile(`Speaker\s+(\d+):`)
	emotionPattern = regexp.MustCompile(`Emotion:\s*(\[[^\]]+\])`)
	contentPattern = regexp.MustCompile(`context:\s*(.+)`)
)

// ParseScript extracts script lines from raw LLM output. Each usable line looks like
//
//	Speaker 1: Emotion: [0.6, 0.05, ...] context: Welcome to the show.
//
// Lines without both a speaker id and content are skipped.
func ParseScript(raw string) []ScriptLine {
	var lines []ScriptLine
	for _, text := range strings.Split(raw, "\n") {
		line, ok := parseLine(text)
		if !ok {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func parseLine(text string) (ScriptLine, bool) {
	if strings.TrimSpace(text) == "" {
		return ScriptLine{}, false
	}
	speakerMatch := speakerPattern.FindStringSubmatch(text)
	contentMatch := contentPattern.FindStringSubmatch(text)
	if speakerMatch == nil || contentMatch == nil {
		return ScriptLine{}, false
	}
	id, err := strconv.Atoi(speakerMatch[1])
	if err != nil {
		return ScriptLine{}, false
	}
	content := strings.TrimSpace(contentMatch[1])
	if content == "" {
		return ScriptLine{}, false
	}

	var emotion []float64
	if m := emotionPattern.FindStringSubmatch(text); m != nil {
		emotion, _ = parseEmotion(m[1])
	}
	return ScriptLine{
		Speaker:   fmt.Sprintf("Speaker %d", id),
		SpeakerID: id,
		Content:   content,
		Emotion:   emotion,
	}, true
}

func parseEmotion(list string) ([]float64, error) {
	list = strings.TrimSpace(list)
	list = strings.TrimPrefix(list, "[")
	list = strings.TrimSuffix(list, "]")
	parts := strings.Split(list, ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("parse emotion value %q: %w", p, err)
		}
		values = append(values, v)
	}
	if len(values) > EmotionChannels {
		values = values[:EmotionChannels]
	}
	return values, nil
}

// SpeakerIDs returns the distinct speaker ids of a script in first-seen order.
func SpeakerIDs(lines []ScriptLine) []int {
	seen := make(map[int]bool)
	var ids []int
	for _, l := range lines {
		if seen[l.SpeakerID] {
			continue
		}
		seen[l.SpeakerID] = true
		ids = append(ids, l.SpeakerID)
	}
	return ids
}

// Clone returns a deep copy so callers never share emotion slices with the job queue.
func Clone(lines []ScriptLine) []ScriptLine {
	if lines == nil {
		return nil
	}
	out := make([]ScriptLine, len(lines))
	for i, l := range lines {
		out[i] = l
		if l.Emotion != nil {
			out[i].Emotion = append([]float64(nil), l.Emotion...)
		}
	}
	return out
}
