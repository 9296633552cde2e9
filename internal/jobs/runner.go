package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/podcraft/internal/config"
	"github.com/loqalabs/podcraft/internal/llm"
	"github.com/loqalabs/podcraft/internal/podcast"
	"github.com/loqalabs/podcraft/internal/tts"
	"github.com/loqalabs/podcraft/internal/voice"
)

// Recorder persists job history. *eventstore.Store implements it.
type Recorder interface {
	StartJob(ctx context.Context, jobID, kind string) error
	AppendEvent(ctx context.Context, jobID, eventType string, payload []byte) error
	FinishJob(ctx context.Context, jobID, status, errMsg, outputPath string) error
}

// Options wires a Runner to its collaborators.
type Options struct {
	Podcast      config.PodcastConfig
	Conditioning config.ConditioningConfig
	LLM          config.LLMConfig
	Generator    llm.Generator
	Model        tts.Model
	Recorder     Recorder
	Events       *EventLog
	Logger       *slog.Logger
}

// Runner owns the single job slot. At most one script or podcast job runs at a time;
// admissions while busy fail with ErrBusy and are never queued.
type Runner struct {
	podcastCfg config.PodcastConfig
	llmCfg     config.LLMConfig
	params     voice.Params
	gen        llm.Generator
	model      tts.Model
	synth      *tts.LineSynthesizer
	prefixes   *tts.PrefixExtractor
	voices     *voice.Registry
	recorder   Recorder
	events     *EventLog
	metrics    *jobMetrics
	logger     *slog.Logger
	clock      func() time.Time
	newID      func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// emitMu is held from a state change until its event is published, so events leave
	// in the order the changes happened. Always taken before mu.
	emitMu sync.Mutex

	mu          sync.Mutex
	state       State
	flags       Flags
	active      *Job
	closed      bool
	script      []podcast.ScriptLine
	chapters    string
	prompts     []podcast.Prompt
	prompt      podcast.Prompt
	settings    podcast.Settings
	assignments map[int]string
	line        int
	totalLines  int
	outputPath  string
	lastErr     error
}

func NewRunner(parent context.Context, opts Options) (*Runner, error) {
	if opts.Generator == nil || opts.Model == nil {
		return nil, fmt.Errorf("runner requires an llm generator and a tts model")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prompts, err := podcast.LoadPrompts(opts.Podcast.PromptsFile)
	if err != nil {
		return nil, err
	}
	events := opts.Events
	if events == nil {
		events = NewEventLog(0)
	}
	assignments := make(map[int]string, len(opts.Podcast.DefaultVoices))
	for id, name := range opts.Podcast.DefaultVoices {
		assignments[id] = name
	}

	ctx, cancel := context.WithCancel(parent)
	r := &Runner{
		podcastCfg: opts.Podcast,
		llmCfg:     opts.LLM,
		params:     voice.ParamsFromConfig(opts.Conditioning),
		gen:        opts.Generator,
		model:      opts.Model,
		synth:      tts.NewLineSynthesizer(opts.Model, opts.Conditioning.Generation),
		prefixes:   tts.NewPrefixExtractor(opts.Model),
		voices:     voice.NewRegistry(opts.Podcast.VoicesDir),
		recorder:   opts.Recorder,
		events:     events,
		logger:     logger.With(slog.String("component", "job-runner")),
		clock:      time.Now,
		newID:      func() string { return uuid.NewString() },
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
		prompts:    prompts,
		prompt:     prompts[0],
		settings: podcast.Settings{
			DurationMinutes: opts.Podcast.DurationMinutes,
			NumSpeakers:     opts.Podcast.NumSpeakers,
		},
		assignments: assignments,
	}
	m, err := newJobMetrics(r)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("init job metrics: %w", err)
	}
	r.metrics = m
	return r, nil
}

// Events exposes the job event log.
func (r *Runner) Events() *EventLog { return r.events }

// Voices exposes the voice registry.
func (r *Runner) Voices() *voice.Registry { return r.voices }

// Snapshot returns a copy of the current flags and progress.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Runner) snapshotLocked() Snapshot {
	s := Snapshot{
		Flags:      r.flags,
		State:      r.state,
		Line:       r.line,
		TotalLines: r.totalLines,
		OutputPath: r.outputPath,
	}
	if r.active != nil {
		s.JobID = r.active.ID
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

// Flags returns only the job indicators.
func (r *Runner) Flags() Flags {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flags
}

// LastError returns the error of the most recent job, or nil.
func (r *Runner) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// OutputPath is the stitched file of the last completed podcast job.
func (r *Runner) OutputPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputPath
}

// Watch emits the current snapshot, then every snapshot that differs from the last one
// sent, sampled at interval. The channel closes when ctx ends.
func (r *Runner) Watch(ctx context.Context, interval time.Duration) <-chan Snapshot {
	if interval <= 0 {
		interval = r.podcastCfg.PollInterval
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := r.Snapshot()
		select {
		case out <- last:
		case <-ctx.Done():
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			cur := r.Snapshot()
			if cur == last {
				continue
			}
			select {
			case out <- cur:
				last = cur
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// SetChapters replaces the source text used by the next script job.
func (r *Runner) SetChapters(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chapters = text
}

func (r *Runner) Chapters() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chapters
}

// UpdateSettings changes duration, speaker count and the free-form user prompt.
func (r *Runner) UpdateSettings(s podcast.Settings) error {
	if s.DurationMinutes <= 0 || s.NumSpeakers <= 0 {
		return fmt.Errorf("duration and speaker count must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = s
	return nil
}

func (r *Runner) Settings() podcast.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Prompts lists the loaded prompt presets.
func (r *Runner) Prompts() []podcast.Prompt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]podcast.Prompt(nil), r.prompts...)
}

// SelectPrompt picks the preset used by the next script job.
func (r *Runner) SelectPrompt(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.prompts {
		if p.Name == name {
			r.prompt = p
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPromptNotFound, name)
}

// Assignments returns speaker id -> voice name.
func (r *Runner) Assignments() map[int]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]string, len(r.assignments))
	for k, v := range r.assignments {
		out[k] = v
	}
	return out
}

// SetVoice assigns a registered voice to a speaker. Running jobs keep the assignment
// they were admitted with.
func (r *Runner) SetVoice(speakerID int, name string) error {
	if _, err := r.voices.Lookup(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[speakerID] = name
	return nil
}

// Script returns a copy of the current script queue.
func (r *Runner) Script() []podcast.ScriptLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return podcast.Clone(r.script)
}

// SetScript replaces the script queue. It fails with ErrBusy while a job runs.
func (r *Runner) SetScript(lines []podcast.ScriptLine) error {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return ErrBusy
	}
	r.script = podcast.Clone(lines)
	r.flags.ScriptAvailable = len(r.script) > 0
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.emit(Event{Type: EventStateChanged, Message: "script replaced", Flags: snap.Flags})
	return nil
}

// Reset clears the script, chapters, output and flags. It fails with ErrBusy while a job runs.
func (r *Runner) Reset() error {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return ErrBusy
	}
	r.script = nil
	r.chapters = ""
	r.flags = Flags{}
	r.outputPath = ""
	r.lastErr = nil
	r.line, r.totalLines = 0, 0
	r.mu.Unlock()

	r.emit(Event{Type: EventStateChanged, Message: "reset"})
	return nil
}

// Interrupt asks the running job to stop at its next checkpoint.
func (r *Runner) Interrupt() error {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.mu.Lock()
	if r.active == nil {
		r.mu.Unlock()
		return ErrNoRunningJob
	}
	r.flags.InterruptRequested = true
	job := *r.active
	flags := r.flags
	r.mu.Unlock()

	r.logger.Info("interrupt requested", slog.String("job_id", job.ID), slog.String("kind", string(job.Kind)))
	r.emit(Event{Type: EventStateChanged, JobID: job.ID, Kind: job.Kind, Message: "interrupt requested", Flags: flags})
	return nil
}

// takeInterrupt consumes a pending interrupt request.
func (r *Runner) takeInterrupt() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.flags.InterruptRequested {
		return false
	}
	r.flags.InterruptRequested = false
	return true
}

// StartScript admits a script job if the runner is idle.
func (r *Runner) StartScript() (Job, error) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.mu.Lock()
	if err := r.admissibleLocked(); err != nil {
		r.mu.Unlock()
		return Job{}, err
	}
	if strings.TrimSpace(r.chapters) == "" {
		r.mu.Unlock()
		return Job{}, ErrNoChapters
	}
	messages := podcast.BuildMessages(r.chapters, r.prompt, r.settings)
	job := r.admitLocked(KindScript, StateRunningScript)
	r.flags.GeneratingScript = true
	r.flags.ScriptAvailable = false
	r.script = nil
	r.line, r.totalLines = 0, 0
	flags := r.flags
	r.wg.Add(1)
	r.mu.Unlock()

	r.admitted(*job, flags)
	go r.run(job, func(ctx context.Context) (outcome, error) {
		return r.generateScript(ctx, *job, messages)
	})
	return *job, nil
}

// StartPodcast admits a podcast job for the current script if the runner is idle.
func (r *Runner) StartPodcast() (Job, error) {
	available, listErr := r.voices.List()

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.mu.Lock()
	if err := r.admissibleLocked(); err != nil {
		r.mu.Unlock()
		return Job{}, err
	}
	if len(r.script) == 0 {
		r.mu.Unlock()
		return Job{}, ErrNoScriptAvailable
	}
	if listErr != nil {
		r.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %v", ErrVoiceNotFound, listErr)
	}
	lines := podcast.Clone(r.script)
	paths, err := voice.ResolveAssignments(podcast.SpeakerIDs(lines), r.assignments, available)
	if err != nil {
		r.mu.Unlock()
		return Job{}, err
	}
	assignments := make(map[int]string, len(r.assignments))
	for k, v := range r.assignments {
		assignments[k] = v
	}
	job := r.admitLocked(KindPodcast, StateRunningPodcast)
	job.OutputDir = filepath.Join(r.podcastCfg.OutputDir, "podcast-"+job.ID)
	r.flags.GeneratingPodcast = true
	r.flags.InterruptRequested = false
	r.line, r.totalLines = 0, len(lines)
	flags := r.flags
	r.wg.Add(1)
	r.mu.Unlock()

	r.admitted(*job, flags)
	go r.run(job, func(ctx context.Context) (outcome, error) {
		return r.generatePodcast(ctx, *job, lines, assignments, paths)
	})
	return *job, nil
}

func (r *Runner) admissibleLocked() error {
	if r.closed {
		return ErrClosed
	}
	if r.active != nil {
		return ErrBusy
	}
	return nil
}

func (r *Runner) admitLocked(kind Kind, state State) *Job {
	job := &Job{
		ID:         r.newID(),
		Kind:       kind,
		AdmittedAt: r.clock().UTC(),
		done:       make(chan struct{}),
	}
	r.active = job
	r.state = state
	r.lastErr = nil
	return job
}

func (r *Runner) admitted(job Job, flags Flags) {
	r.logger.Info("job admitted", slog.String("job_id", job.ID), slog.String("kind", string(job.Kind)))
	r.record(func(ctx context.Context) error { return r.recorder.StartJob(ctx, job.ID, string(job.Kind)) })
	r.emit(Event{Type: EventAdmitted, JobID: job.ID, Kind: job.Kind, Flags: flags})
}

type outcome struct {
	script      []podcast.ScriptLine
	outputPath  string
	interrupted bool
}

// run executes work and always returns the runner to idle, even if work panics.
func (r *Runner) run(job *Job, work func(ctx context.Context) (outcome, error)) {
	defer r.wg.Done()
	defer close(job.done)

	var (
		res outcome
		err error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("job panicked: %v", p)
			}
		}()
		res, err = work(r.ctx)
	}()
	r.finish(job, res, err)
}

func (r *Runner) finish(job *Job, res outcome, err error) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.mu.Lock()
	switch job.Kind {
	case KindScript:
		r.flags.GeneratingScript = false
		if err == nil {
			r.script = res.script
		}
		r.flags.ScriptAvailable = len(r.script) > 0
	case KindPodcast:
		r.flags.GeneratingPodcast = false
		if err == nil && !res.interrupted {
			r.flags.PodcastAvailable = true
			r.outputPath = res.outputPath
		}
	}
	r.flags.InterruptRequested = false
	r.state = StateIdle
	r.active = nil
	r.lastErr = err
	flags := r.flags
	lines := len(r.script)
	r.mu.Unlock()

	status := statusCompleted
	evType := EventCompleted
	var errMsg string
	switch {
	case err != nil:
		status, evType, errMsg = statusFailed, EventFailed, err.Error()
		r.logger.Warn("job failed", slog.String("job_id", job.ID), slog.String("kind", string(job.Kind)), slogError(err))
	case res.interrupted:
		status, evType = statusInterrupted, EventInterrupted
		r.logger.Info("job interrupted", slog.String("job_id", job.ID), slog.String("kind", string(job.Kind)))
	default:
		r.logger.Info("job completed",
			slog.String("job_id", job.ID),
			slog.String("kind", string(job.Kind)),
			slog.Int("script_lines", lines),
			slog.Duration("took", r.clock().Sub(job.AdmittedAt)),
		)
	}
	r.metrics.jobFinished(job.Kind, status)
	r.record(func(ctx context.Context) error {
		return r.recorder.FinishJob(ctx, job.ID, status, errMsg, res.outputPath)
	})
	r.emit(Event{
		Type:       evType,
		JobID:      job.ID,
		Kind:       job.Kind,
		Message:    errMsg,
		OutputPath: res.outputPath,
		Flags:      flags,
	})
}

// Wait blocks until the job running at call time has finished.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	job := r.active
	r.mu.Unlock()
	if job == nil {
		return nil
	}
	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close refuses new jobs, interrupts the running one and waits for it. If ctx expires
// first, in-flight model calls are cancelled.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	if r.active != nil {
		r.flags.InterruptRequested = true
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) emit(ev Event) {
	if ev.Flags == (Flags{}) && ev.Type == EventStateChanged {
		ev.Flags = r.Flags()
	}
	ev = r.events.Publish(ev)
	if ev.JobID == "" {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	r.record(func(ctx context.Context) error {
		return r.recorder.AppendEvent(ctx, ev.JobID, string(ev.Type), payload)
	})
}

func (r *Runner) record(fn func(ctx context.Context) error) {
	if r.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.logger.Warn("record job history failed", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
