package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrAudioRead marks failures to load audio from disk.
var ErrAudioRead = errors.New("audio read failed")

// ReadError reports which file could not be read. It matches both ErrAudioRead and the cause.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read audio %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() []error {
	return []error{ErrAudioRead, e.Err}
}

// Segment is mono PCM in the range [-1, 1].
type Segment struct {
	Samples    []float32
	SampleRate int
}

func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// Clip is interleaved multi-channel PCM as decoded from a file.
type Clip struct {
	Data       []float32
	Channels   int
	SampleRate int
}

func (c Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Data) / c.Channels
}

// Mono averages all channels into a single segment.
func (c Clip) Mono() Segment {
	return Segment{Samples: Downmix(c.Data, c.Channels), SampleRate: c.SampleRate}
}

// Downmix averages interleaved channels frame by frame.
func Downmix(data []float32, channels int) []float32 {
	if channels <= 1 {
		return append([]float32(nil), data...)
	}
	frames := len(data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += data[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// WindowSamples converts a window in milliseconds into a sample count at rate.
func WindowSamples(windowMS, sampleRate int) int {
	if windowMS <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(windowMS) * int64(sampleRate) / 1000)
}

// TailOffset is the first frame of the trailing window. It never goes below zero.
func TailOffset(totalFrames, sampleRate, windowMS int) int {
	offset := totalFrames - WindowSamples(windowMS, sampleRate)
	if offset < 0 {
		return 0
	}
	return offset
}
