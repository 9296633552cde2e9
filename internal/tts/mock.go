package tts

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"
	"time"
)

// mockCharDuration sets the mock speaking pace.
const mockCharDuration = 60 * time.Millisecond

type mockModel struct {
	sampleRate int
	delay      time.Duration
}

// NewMockModel returns a deterministic model that renders text as a noisy tone. Its
// output starts with the decoded prefix, like a real continuation model.
func NewMockModel(sampleRate int) Model {
	return &mockModel{sampleRate: sampleRate, delay: 5 * time.Millisecond}
}

func (m *mockModel) SampleRate() int { return m.sampleRate }

func (m *mockModel) Embed(ctx context.Context, samples []float32, sampleRate int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sum, sumSq, peak float64
	for _, s := range samples {
		v := float64(s)
		sum += v
		sumSq += v * v
		peak = math.Max(peak, math.Abs(v))
	}
	n := math.Max(float64(len(samples)), 1)
	return []float32{
		float32(sum / n),
		float32(math.Sqrt(sumSq / n)),
		float32(peak),
		float32(float64(len(samples)) / math.Max(float64(sampleRate), 1)),
	}, nil
}

func (m *mockModel) EncodePrefix(ctx context.Context, samples []float32) (EncodedPrefix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out, nil
}

func (m *mockModel) Synthesize(ctx context.Context, req ConditioningRequest) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.delay):
	}

	prefix := make([]float32, len(req.Prefix)/4)
	for i := range prefix {
		prefix[i] = math.Float32frombits(binary.LittleEndian.Uint32(req.Prefix[i*4:]))
	}

	h := fnv.New64a()
	h.Write([]byte(req.Text))
	rng := rand.New(rand.NewSource(req.Seed ^ int64(h.Sum64())))

	chars := len([]rune(req.Text))
	if chars < 4 {
		chars = 4
	}
	n := int(float64(m.sampleRate) * mockCharDuration.Seconds() * float64(chars))
	pitch := 110.0
	if len(req.Speaker) > 1 {
		pitch += float64(req.Speaker[1]) * 200
	}
	amp := 0.2 + 0.3*req.Emotion[0]

	out := make([]float32, 0, len(prefix)+n)
	out = append(out, prefix...)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(m.sampleRate)
		v := amp*math.Sin(2*math.Pi*pitch*t) + 0.01*(rng.Float64()*2-1)
		out = append(out, float32(v))
	}
	return out, nil
}
