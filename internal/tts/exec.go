package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execModel runs an external worker once per call. The worker reads one JSON request
// on stdin and writes one JSON response on stdout.
type execModel struct {
	cmd        []string
	model      string
	sampleRate int
	mu         sync.Mutex
}

type execRequest struct {
	Op         string               `json:"op"`
	Model      string               `json:"model"`
	SampleRate int                  `json:"sample_rate"`
	PCMBase64  string               `json:"pcm_base64,omitempty"`
	Request    *ConditioningRequest `json:"request,omitempty"`
}

type execResponse struct {
	Embedding  []float32 `json:"embedding,omitempty"`
	Prefix     []byte    `json:"prefix,omitempty"`
	PCMBase64  string    `json:"pcm_base64,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func NewExecModel(command, model string, sampleRate int) (Model, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execModel{cmd: args, model: model, sampleRate: sampleRate}, nil
}

func (e *execModel) SampleRate() int { return e.sampleRate }

func (e *execModel) Embed(ctx context.Context, samples []float32, sampleRate int) ([]float32, error) {
	resp, err := e.call(ctx, execRequest{Op: "embed", SampleRate: sampleRate, PCMBase64: encodePCM16(samples)})
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("tts worker returned an empty embedding")
	}
	return resp.Embedding, nil
}

func (e *execModel) EncodePrefix(ctx context.Context, samples []float32) (EncodedPrefix, error) {
	resp, err := e.call(ctx, execRequest{Op: "encode_prefix", SampleRate: e.sampleRate, PCMBase64: encodePCM16(samples)})
	if err != nil {
		return nil, err
	}
	return resp.Prefix, nil
}

func (e *execModel) Synthesize(ctx context.Context, req ConditioningRequest) ([]float32, error) {
	resp, err := e.call(ctx, execRequest{Op: "synthesize", SampleRate: e.sampleRate, Request: &req})
	if err != nil {
		return nil, err
	}
	if resp.SampleRate != 0 && resp.SampleRate != e.sampleRate {
		return nil, fmt.Errorf("tts worker returned %d Hz audio, expected %d", resp.SampleRate, e.sampleRate)
	}
	return decodePCM16(resp.PCMBase64)
}

func (e *execModel) call(ctx context.Context, req execRequest) (execResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req.Model = e.model
	data, err := json.Marshal(req)
	if err != nil {
		return execResponse{}, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return execResponse{}, fmt.Errorf("tts exec %s failed: %w: %s", req.Op, err, bytes.TrimSpace(stderr.Bytes()))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return execResponse{}, fmt.Errorf("decode tts exec response: %w", err)
	}
	if resp.Error != "" {
		return execResponse{}, fmt.Errorf("tts worker: %s", resp.Error)
	}
	return resp, nil
}

func encodePCM16(samples []float32) string {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodePCM16(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode pcm: %w", err)
	}
	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	return out, nil
}
