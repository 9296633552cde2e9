package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/podcraft/internal/audio"
	"github.com/loqalabs/podcraft/internal/llm"
	"github.com/loqalabs/podcraft/internal/podcast"
	"github.com/loqalabs/podcraft/internal/voice"
)

var tracer = otel.Tracer("github.com/loqalabs/podcraft/jobs")

func (r *Runner) generateScript(ctx context.Context, job Job, messages []llm.Message) (outcome, error) {
	ctx, span := tracer.Start(ctx, "script.generate", trace.WithAttributes(attribute.String("job_id", job.ID)))
	defer span.End()

	req := llm.RequestFromConfig(r.llmCfg, messages)
	req.JobID = job.ID

	start := r.clock()
	text, err := llm.Complete(ctx, r.gen, req)
	r.metrics.llmCompleted(r.clock().Sub(start))
	if errors.Is(err, llm.ErrEmptyCompletion) {
		err = fmt.Errorf("%w: %w", ErrEmptyScriptResult, err)
		span.RecordError(err)
		return outcome{}, err
	}
	if err != nil {
		span.RecordError(err)
		return outcome{}, fmt.Errorf("generate script: %w", err)
	}

	lines := podcast.ParseScript(text)
	if len(lines) == 0 {
		err := fmt.Errorf("%w: completion contained no script lines", ErrEmptyScriptResult)
		span.RecordError(err)
		return outcome{}, err
	}
	span.SetAttributes(attribute.Int("script.lines", len(lines)))
	return outcome{script: lines}, nil
}

func (r *Runner) generatePodcast(ctx context.Context, job Job, lines []podcast.ScriptLine, assignments map[int]string, paths map[string]string) (outcome, error) {
	ctx, span := tracer.Start(ctx, "podcast.generate", trace.WithAttributes(
		attribute.String("job_id", job.ID),
		attribute.Int("script.lines", len(lines)),
	))
	defer span.End()
	log := r.logger.With(slog.String("job_id", job.ID))

	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return outcome{}, fmt.Errorf("create output dir: %w", err)
	}

	cache := voice.NewProfileCache(r.model, paths, r.params)
	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)
	if err := cache.Warm(ctx, names); err != nil {
		return outcome{}, err
	}

	prefixPath, err := r.initialPrefix(job.OutputDir)
	if err != nil {
		return outcome{}, err
	}
	overlap := r.podcastCfg.OverlapMS
	stitcher := audio.NewStitcher(overlap, r.synth.SampleRate())

	for i, line := range lines {
		if r.takeInterrupt() {
			log.Info("stopping before line", slog.Int("line", i))
			return outcome{interrupted: true}, nil
		}

		voiceName := assignments[line.SpeakerID]
		profile, err := cache.Resolve(ctx, voiceName)
		if err != nil {
			return outcome{}, err
		}
		prefix, err := r.prefixes.Extract(ctx, prefixPath, overlap)
		if err != nil {
			return outcome{}, err
		}

		start := r.clock()
		seg, err := r.synth.Synthesize(ctx, i, line, profile, prefix)
		if err != nil {
			span.RecordError(err)
			return outcome{}, err
		}
		r.metrics.lineSynthesized(voiceName, r.clock().Sub(start))

		if r.takeInterrupt() {
			log.Info("stopping after line", slog.Int("line", i))
			return outcome{interrupted: true}, nil
		}

		path := filepath.Join(job.OutputDir, fmt.Sprintf("seq_%d.wav", i))
		if err := audio.WriteWAV(path, seg); err != nil {
			return outcome{}, fmt.Errorf("write %s: %w", path, err)
		}
		if err := stitcher.Append(seg); err != nil {
			return outcome{}, err
		}
		prefixPath = path
		r.lineDone(job, i, len(lines), path)
	}

	final := filepath.Join(job.OutputDir, "final.wav")
	result := stitcher.Result()
	if err := audio.WriteWAV(final, result); err != nil {
		return outcome{}, fmt.Errorf("write %s: %w", final, err)
	}
	log.Info("podcast stitched", slog.String("path", final), slog.Duration("duration", result.Duration()))
	return outcome{outputPath: final}, nil
}

// initialPrefix returns the audio the first line continues from. Without a configured
// silence file, one is written into the job directory.
func (r *Runner) initialPrefix(dir string) (string, error) {
	if p := r.podcastCfg.SilencePath; p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	rate := r.synth.SampleRate()
	ms := r.podcastCfg.OverlapMS
	if ms < 100 {
		ms = 100
	}
	path := filepath.Join(dir, "silence.wav")
	seg := audio.Segment{Samples: make([]float32, audio.WindowSamples(ms, rate)), SampleRate: rate}
	if err := audio.WriteWAV(path, seg); err != nil {
		return "", fmt.Errorf("write silence prefix: %w", err)
	}
	return path, nil
}

func (r *Runner) lineDone(job Job, idx, total int, path string) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.mu.Lock()
	r.line = idx + 1
	flags := r.flags
	r.mu.Unlock()

	r.emit(Event{
		Type:       EventLineCompleted,
		JobID:      job.ID,
		Kind:       job.Kind,
		Line:       idx + 1,
		TotalLines: total,
		OutputPath: path,
		Flags:      flags,
	})
}
