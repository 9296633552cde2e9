package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/loqalabs/podcraft/internal/audio"
)

// Embedder computes a speaker embedding from reference audio.
type Embedder interface {
	Embed(ctx context.Context, samples []float32, sampleRate int) ([]float32, error)
}

// Profile is a resolved voice ready for synthesis.
type Profile struct {
	Name      string
	Path      string
	Embedding []float32
	Params    Params
}

// ProfileCache memoizes speaker embeddings for the lifetime of one job.
type ProfileCache struct {
	embedder Embedder
	paths    map[string]string
	params   Params

	mu       sync.Mutex
	profiles map[string]Profile
	computed int
}

// NewProfileCache serves the voices in paths (name -> file).
func NewProfileCache(embedder Embedder, paths map[string]string, params Params) *ProfileCache {
	cp := make(map[string]string, len(paths))
	for k, v := range paths {
		cp[k] = v
	}
	return &ProfileCache{
		embedder: embedder,
		paths:    cp,
		params:   params,
		profiles: make(map[string]Profile),
	}
}

// Resolve returns the profile for name, computing the embedding on first use.
func (c *ProfileCache) Resolve(ctx context.Context, name string) (Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.profiles[name]; ok {
		return p, nil
	}
	path, ok := c.paths[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrVoiceNotFound, name)
	}
	clip, err := audio.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	mono := clip.Mono()
	embedding, err := c.embedder.Embed(ctx, mono.Samples, mono.SampleRate)
	if err != nil {
		return Profile{}, fmt.Errorf("embed voice %s: %w", name, err)
	}
	p := Profile{Name: name, Path: path, Embedding: embedding, Params: c.params}
	c.profiles[name] = p
	c.computed++
	return p, nil
}

// Warm resolves every voice up front so missing files fail before any audio is produced.
func (c *ProfileCache) Warm(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := c.Resolve(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Computations reports how many embeddings were computed.
func (c *ProfileCache) Computations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.computed
}
