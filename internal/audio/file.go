package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

var errEmptyAudio = errors.New("file contains no audio frames")

// ReadFile decodes a .wav or .mp3 file.
func ReadFile(path string) (Clip, error) {
	clip, err := decode(path)
	if err != nil {
		return Clip{}, &ReadError{Path: path, Err: err}
	}
	if clip.Frames() == 0 {
		return Clip{}, &ReadError{Path: path, Err: errEmptyAudio}
	}
	return clip, nil
}

// ReadTail returns the trailing windowMS of a file, or the whole file when it is shorter.
func ReadTail(path string, windowMS int) (Clip, error) {
	clip, err := ReadFile(path)
	if err != nil {
		return Clip{}, err
	}
	offset := TailOffset(clip.Frames(), clip.SampleRate, windowMS)
	clip.Data = clip.Data[offset*clip.Channels:]
	return clip, nil
}

func decode(path string) (Clip, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(path)
	case ".mp3":
		return decodeMP3(path)
	default:
		return Clip{}, fmt.Errorf("unsupported audio format %q", filepath.Ext(path))
	}
}

func decodeWAV(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Clip{}, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	channels := int(dec.NumChans)
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	bitDepth := int(dec.BitDepth)
	if buf.SourceBitDepth > 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 || channels <= 0 {
		return Clip{}, errors.New("wav header missing format")
	}

	data := make([]float32, len(buf.Data))
	if bitDepth == 8 {
		for i, v := range buf.Data {
			data[i] = float32(v-128) / 128
		}
	} else {
		scale := float32(int64(1) << (bitDepth - 1))
		for i, v := range buf.Data {
			data[i] = float32(v) / scale
		}
	}
	return Clip{Data: data, Channels: channels, SampleRate: int(dec.SampleRate)}, nil
}

// go-mp3 always yields 16-bit little-endian stereo.
func decodeMP3(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return Clip{}, fmt.Errorf("decode mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return Clip{}, fmt.Errorf("decode mp3: %w", err)
	}
	samples := len(raw) / 2
	data := make([]float32, samples)
	for i := 0; i < samples; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		data[i] = float32(v) / 32768
	}
	return Clip{Data: data, Channels: 2, SampleRate: dec.SampleRate()}, nil
}

// WriteWAV stores seg as 16-bit mono PCM.
func WriteWAV(path string, seg Segment) error {
	if seg.SampleRate <= 0 {
		return fmt.Errorf("write wav %s: invalid sample rate %d", path, seg.SampleRate)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: seg.SampleRate},
		Data:           toPCM16(seg.Samples),
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(f, seg.SampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		f.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return f.Close()
}

func toPCM16(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int(v)
	}
	return out
}
