package jobs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/loqalabs/podcraft/internal/audio"
	"github.com/loqalabs/podcraft/internal/config"
	"github.com/loqalabs/podcraft/internal/llm"
	"github.com/loqalabs/podcraft/internal/podcast"
	"github.com/loqalabs/podcraft/internal/tts"
)

const testRate = 8000

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// gate blocks callers until opened and tracks how many are inside at once.
type gate struct {
	mu      sync.Mutex
	active  int
	max     int
	release chan struct{}
}

func newGate() *gate { return &gate{release: make(chan struct{})} }

func (g *gate) pass(ctx context.Context) error {
	g.mu.Lock()
	g.active++
	if g.active > g.max {
		g.max = g.active
	}
	ch := g.release
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.active--
		g.mu.Unlock()
	}()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	close(g.release)
}

func (g *gate) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.release = make(chan struct{})
}

func (g *gate) maxActive() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

type fakeGenerator struct {
	content string
	gate    *gate
	calls   atomic.Int32
}

func (f *fakeGenerator) Generate(ctx context.Context, req llm.Request, consumer func(llm.Chunk) error) error {
	f.calls.Add(1)
	if f.gate != nil {
		if err := f.gate.pass(ctx); err != nil {
			return err
		}
	}
	return consumer(llm.Chunk{JobID: req.JobID, Content: f.content})
}

// fakeModel echoes the prefix length and then appends lineSamples of tone.
type fakeModel struct {
	lineSamples int
	gate        *gate

	mu       sync.Mutex
	embeds   int
	calls    int
	failOn   int
	blockOn  int
	entered  chan struct{}
	release  chan struct{}
	requests []tts.ConditioningRequest
}

func newFakeModel(lineSamples int) *fakeModel {
	return &fakeModel{lineSamples: lineSamples}
}

func (m *fakeModel) SampleRate() int { return testRate }

func (m *fakeModel) Embed(ctx context.Context, samples []float32, sampleRate int) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeds++
	return []float32{float32(len(samples))}, nil
}

func (m *fakeModel) EncodePrefix(ctx context.Context, samples []float32) (tts.EncodedPrefix, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(samples)))
	return buf, nil
}

func (m *fakeModel) Synthesize(ctx context.Context, req tts.ConditioningRequest) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.gate != nil {
		if err := m.gate.pass(ctx); err != nil {
			return nil, err
		}
	}
	if call == m.blockOn {
		m.entered <- struct{}{}
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if call == m.failOn {
		return nil, errors.New("model exploded")
	}
	prefix := int(binary.LittleEndian.Uint32(req.Prefix))
	out := make([]float32, prefix+m.lineSamples)
	for i := prefix; i < len(out); i++ {
		out[i] = 0.25
	}
	return out, nil
}

func (m *fakeModel) embedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embeds
}

type recordedCall struct {
	op     string
	jobID  string
	detail string
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (f *fakeRecorder) StartJob(ctx context.Context, jobID, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"start", jobID, kind})
	return nil
}

func (f *fakeRecorder) AppendEvent(ctx context.Context, jobID, eventType string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"event", jobID, eventType})
	return nil
}

func (f *fakeRecorder) FinishJob(ctx context.Context, jobID, status, errMsg, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"finish", jobID, status})
	return nil
}

func (f *fakeRecorder) snapshot() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

// hookHandler calls onRecord for every log record carrying msg and discards the rest.
type hookHandler struct {
	msg      string
	onRecord func()
}

func (h *hookHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *hookHandler) Handle(_ context.Context, rec slog.Record) error {
	if rec.Message == h.msg {
		h.onRecord()
	}
	return nil
}

func (h *hookHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *hookHandler) WithGroup(string) slog.Handler      { return h }

type testEnv struct {
	runner   *Runner
	model    *fakeModel
	recorder *fakeRecorder
	output   string
}

func newTestEnv(t *testing.T, gen llm.Generator, model *fakeModel) testEnv {
	t.Helper()
	return newTestEnvWithLogger(t, gen, model, newTestLogger())
}

func newTestEnvWithLogger(t *testing.T, gen llm.Generator, model *fakeModel, logger *slog.Logger) testEnv {
	t.Helper()
	dir := t.TempDir()
	voices := filepath.Join(dir, "voices")
	if err := os.MkdirAll(voices, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, frames := range map[string]int{"host": 1600, "guest": 2400} {
		seg := audio.Segment{Samples: make([]float32, frames), SampleRate: 16000}
		if err := audio.WriteWAV(filepath.Join(voices, name+".wav"), seg); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.Podcast.VoicesDir = voices
	cfg.Podcast.OutputDir = filepath.Join(dir, "out")
	cfg.Podcast.PromptsFile = ""
	cfg.Podcast.SilencePath = ""
	cfg.Podcast.PollInterval = 5 * time.Millisecond
	cfg.Podcast.DefaultVoices = map[int]string{1: "host", 2: "guest"}

	rec := &fakeRecorder{}
	r, err := NewRunner(context.Background(), Options{
		Podcast:      cfg.Podcast,
		Conditioning: cfg.Conditioning,
		LLM:          cfg.LLM,
		Generator:    gen,
		Model:        model,
		Recorder:     rec,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return testEnv{runner: r, model: model, recorder: rec, output: cfg.Podcast.OutputDir}
}

func testScript() []podcast.ScriptLine {
	return []podcast.ScriptLine{
		{Speaker: "Speaker 1", SpeakerID: 1, Content: "Welcome to the show.", Emotion: []float64{0.9, 0, 0, 0, 0.1, 0}},
		{Speaker: "Speaker 2", SpeakerID: 2, Content: "Glad to be here."},
		{Speaker: "Speaker 1", SpeakerID: 1, Content: "Let us begin."},
	}
}

func waitIdle(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestScriptJobPopulatesQueue(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript}, newFakeModel(100))
	r := env.runner
	r.SetChapters("Chapter 1: Concurrency in Go")

	job, err := r.StartScript()
	if err != nil {
		t.Fatalf("start script: %v", err)
	}
	if job.Kind != KindScript || job.ID == "" {
		t.Fatalf("unexpected job: %+v", job)
	}
	waitIdle(t, r)

	flags := r.Flags()
	if flags.GeneratingScript || !flags.ScriptAvailable {
		t.Fatalf("unexpected flags: %+v", flags)
	}
	if got := len(r.Script()); got != 4 {
		t.Fatalf("expected 4 script lines, got %d", got)
	}
	if r.LastError() != nil {
		t.Fatalf("unexpected last error: %v", r.LastError())
	}
}

func TestStartScriptRequiresChapters(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript}, newFakeModel(100))
	if _, err := env.runner.StartScript(); !errors.Is(err, ErrNoChapters) {
		t.Fatalf("expected ErrNoChapters, got %v", err)
	}
}

func TestEmptyCompletionFailsScriptJob(t *testing.T) {
	for _, content := range []string{"", "x", "no speaker lines here"} {
		env := newTestEnv(t, &fakeGenerator{content: content}, newFakeModel(100))
		r := env.runner
		r.SetChapters("chapters")
		if _, err := r.StartScript(); err != nil {
			t.Fatalf("start script: %v", err)
		}
		waitIdle(t, r)

		if !errors.Is(r.LastError(), ErrEmptyScriptResult) {
			t.Fatalf("content %q: expected ErrEmptyScriptResult, got %v", content, r.LastError())
		}
		flags := r.Flags()
		if flags.GeneratingScript || flags.ScriptAvailable {
			t.Fatalf("content %q: unexpected flags %+v", content, flags)
		}
	}
}

func TestStartPodcastWithoutScript(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript}, newFakeModel(100))
	before := env.runner.Flags()
	if _, err := env.runner.StartPodcast(); !errors.Is(err, ErrNoScriptAvailable) {
		t.Fatalf("expected ErrNoScriptAvailable, got %v", err)
	}
	if env.runner.Flags() != before {
		t.Fatal("rejected admission must not change flags")
	}
}

func TestStartPodcastUnknownVoice(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript}, newFakeModel(100))
	r := env.runner
	lines := testScript()
	lines[1].SpeakerID = 3
	if err := r.SetScript(lines); err != nil {
		t.Fatal(err)
	}
	if _, err := r.StartPodcast(); !errors.Is(err, ErrVoiceNotFound) {
		t.Fatalf("expected ErrVoiceNotFound, got %v", err)
	}
	if r.Snapshot().State != StateIdle {
		t.Fatal("runner should remain idle")
	}
	if err := r.SetVoice(1, "nobody"); !errors.Is(err, ErrVoiceNotFound) {
		t.Fatalf("expected ErrVoiceNotFound from SetVoice, got %v", err)
	}
}

func TestPodcastJobWritesLinesAndStitches(t *testing.T) {
	const lineSamples = 1000
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript}, newFakeModel(lineSamples))
	r := env.runner
	if err := r.SetScript(testScript()); err != nil {
		t.Fatal(err)
	}

	job, err := r.StartPodcast()
	if err != nil {
		t.Fatalf("start podcast: %v", err)
	}
	waitIdle(t, r)

	if err := r.LastError(); err != nil {
		t.Fatalf("podcast failed: %v", err)
	}
	flags := r.Flags()
	if flags.GeneratingPodcast || !flags.PodcastAvailable {
		t.Fatalf("unexpected flags: %+v", flags)
	}
	if env.model.embedCount() != 2 {
		t.Fatalf("expected one embedding per distinct voice, got %d", env.model.embedCount())
	}

	overlap := audio.WindowSamples(100, testRate)
	for i := 0; i < 3; i++ {
		clip, err := audio.ReadFile(filepath.Join(job.OutputDir, fmt.Sprintf("seq_%d.wav", i)))
		if err != nil {
			t.Fatalf("read seq_%d: %v", i, err)
		}
		want := overlap + lineSamples
		if clip.Frames() != want {
			t.Fatalf("seq_%d: expected %d frames, got %d", i, want, clip.Frames())
		}
	}
	final, err := audio.ReadFile(r.OutputPath())
	if err != nil {
		t.Fatalf("read final: %v", err)
	}
	if want := overlap + 3*lineSamples; final.Frames() != want {
		t.Fatalf("expected %d stitched frames, got %d", want, final.Frames())
	}
	if filepath.Dir(r.OutputPath()) != job.OutputDir || filepath.Base(job.OutputDir) != "podcast-"+job.ID {
		t.Fatalf("unexpected output layout: %s", r.OutputPath())
	}

	reqs := env.model.requests
	if reqs[0].Emotion[0] != 0.9 || reqs[0].Emotion[6] != tts.EmotionFiller || reqs[0].Seed != 421 {
		t.Fatalf("unexpected conditioning: %+v", reqs[0])
	}
}

func TestInterruptStopsAfterCurrentLine(t *testing.T) {
	model := newFakeModel(500)
	model.blockOn = 2
	model.entered = make(chan struct{}, 1)
	model.release = make(chan struct{})
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript}, model)
	r := env.runner
	if err := r.SetScript(testScript()); err != nil {
		t.Fatal(err)
	}
	job, err := r.StartPodcast()
	if err != nil {
		t.Fatalf("start podcast: %v", err)
	}

	<-model.entered
	if err := r.Interrupt(); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	if !r.Flags().InterruptRequested {
		t.Fatal("interrupt flag should be visible while the line finishes")
	}
	close(model.release)
	waitIdle(t, r)

	flags := r.Flags()
	if flags.GeneratingPodcast || flags.PodcastAvailable || flags.InterruptRequested {
		t.Fatalf("unexpected flags after interrupt: %+v", flags)
	}
	if r.LastError() != nil {
		t.Fatalf("interrupt is not an error: %v", r.LastError())
	}
	if _, err := os.Stat(filepath.Join(job.OutputDir, "seq_0.wav")); err != nil {
		t.Fatalf("first line should be written: %v", err)
	}
	for _, name := range []string{"seq_1.wav", "seq_2.wav", "final.wav"} {
		if _, err := os.Stat(filepath.Join(job.OutputDir, name)); !os.IsNotExist(err) {
			t.Fatalf("%s should not exist after interrupt", name)
		}
	}

	calls := env.recorder.snapshot()
	last := calls[len(calls)-1]
	finish := calls[len(calls)-2]
	if finish.op != "finish" || finish.detail != statusInterrupted || last.detail != string(EventInterrupted) {
		t.Fatalf("unexpected recorded tail: %+v", calls)
	}
}

func TestInterruptKeepsPreviousPodcast(t *testing.T) {
	model := newFakeModel(200)
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript}, model)
	r := env.runner
	if err := r.SetScript(testScript()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.StartPodcast(); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, r)
	previous := r.OutputPath()
	if previous == "" || !r.Flags().PodcastAvailable {
		t.Fatal("first podcast should complete")
	}

	model.mu.Lock()
	model.blockOn = model.calls + 1
	model.entered = make(chan struct{}, 1)
	model.release = make(chan struct{})
	model.mu.Unlock()

	if _, err := r.StartPodcast(); err != nil {
		t.Fatal(err)
	}
	<-model.entered
	if err := r.Interrupt(); err != nil {
		t.Fatal(err)
	}
	close(model.release)
	waitIdle(t, r)

	if !r.Flags().PodcastAvailable || r.OutputPath() != previous {
		t.Fatalf("interrupted run must not invalidate the previous podcast: %+v %s", r.Flags(), r.OutputPath())
	}
}

func TestSynthesisFailureClearsGenerating(t *testing.T) {
	model := newFakeModel(200)
	model.failOn = 2
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript}, model)
	r := env.runner
	if err := r.SetScript(testScript()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.StartPodcast(); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, r)

	err := r.LastError()
	var synthErr *tts.SynthesisError
	if !errors.Is(err, ErrSynthesis) || !errors.As(err, &synthErr) || synthErr.Line != 1 {
		t.Fatalf("expected synthesis error on line 1, got %v", err)
	}
	flags := r.Flags()
	if flags.GeneratingPodcast || flags.PodcastAvailable {
		t.Fatalf("unexpected flags: %+v", flags)
	}
	if r.Snapshot().LastError == "" {
		t.Fatal("snapshot should carry the last error")
	}
}

func TestInterruptWhenIdle(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript}, newFakeModel(100))
	if err := env.runner.Interrupt(); !errors.Is(err, ErrNoRunningJob) {
		t.Fatalf("expected ErrNoRunningJob, got %v", err)
	}
	if env.runner.Flags().InterruptRequested {
		t.Fatal("idle interrupt must not leave a pending request")
	}
}

func TestBusyRejectsEveryMutation(t *testing.T) {
	g := newGate()
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript, gate: g}, newFakeModel(100))
	r := env.runner
	r.SetChapters("chapters")
	if err := r.SetScript(testScript()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.StartScript(); err != nil {
		t.Fatal(err)
	}

	if _, err := r.StartScript(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for second script job, got %v", err)
	}
	if _, err := r.StartPodcast(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for podcast job, got %v", err)
	}
	if err := r.SetScript(testScript()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for SetScript, got %v", err)
	}
	if err := r.Reset(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for Reset, got %v", err)
	}
	snap := r.Snapshot()
	if snap.State != StateRunningScript || !snap.GeneratingScript || snap.ScriptAvailable {
		t.Fatalf("unexpected snapshot while running: %+v", snap)
	}

	g.open()
	waitIdle(t, r)
	if err := r.Reset(); err != nil {
		t.Fatalf("reset when idle: %v", err)
	}
	if r.Flags() != (Flags{}) || len(r.Script()) != 0 || r.Chapters() != "" {
		t.Fatal("reset should clear flags, script and chapters")
	}
}

func TestAdmissionIsSingleFlight(t *testing.T) {
	g := newGate()
	model := newFakeModel(50)
	model.gate = g
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript, gate: g}, model)
	r := env.runner
	r.SetChapters("chapters")

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 25; round++ {
		if err := r.SetScript(testScript()); err != nil {
			t.Fatalf("round %d: set script: %v", round, err)
		}
		g.reset()

		n := 2 + rng.Intn(14)
		kinds := make([]bool, n)
		for i := range kinds {
			kinds[i] = rng.Intn(2) == 0
		}

		var wg sync.WaitGroup
		var admitted, busy atomic.Int32
		for _, script := range kinds {
			wg.Add(1)
			go func(script bool) {
				defer wg.Done()
				var err error
				if script {
					_, err = r.StartScript()
				} else {
					_, err = r.StartPodcast()
				}
				switch {
				case err == nil:
					admitted.Add(1)
				case errors.Is(err, ErrBusy):
					busy.Add(1)
				default:
					t.Errorf("round %d: unexpected admission error: %v", round, err)
				}
			}(script)
		}
		wg.Wait()

		if admitted.Load() != 1 || int(busy.Load()) != n-1 {
			t.Fatalf("round %d: admitted=%d busy=%d of %d", round, admitted.Load(), busy.Load(), n)
		}
		g.open()
		waitIdle(t, r)

		flags := r.Flags()
		if flags.GeneratingScript || flags.GeneratingPodcast {
			t.Fatalf("round %d: generating flag left set: %+v", round, flags)
		}
	}
	if g.maxActive() > 1 {
		t.Fatalf("observed %d concurrent jobs", g.maxActive())
	}
}

func TestWatchEmitsOnlyChanges(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript}, newFakeModel(100))
	r := env.runner
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := r.Watch(ctx, 5*time.Millisecond)
	first := <-updates
	if first.State != StateIdle || first.ScriptAvailable {
		t.Fatalf("unexpected initial snapshot: %+v", first)
	}

	select {
	case s := <-updates:
		t.Fatalf("no change should emit nothing, got %+v", s)
	case <-time.After(30 * time.Millisecond):
	}

	if err := r.SetScript(testScript()); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-updates:
		if !s.ScriptAvailable {
			t.Fatalf("expected script available, got %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}

	cancel()
	for range updates {
	}
}

func TestRecorderSeesLifecycle(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript}, newFakeModel(100))
	r := env.runner
	r.SetChapters("chapters")
	job, err := r.StartScript()
	if err != nil {
		t.Fatal(err)
	}
	waitIdle(t, r)

	calls := env.recorder.snapshot()
	if len(calls) < 3 {
		t.Fatalf("expected start, events and finish, got %+v", calls)
	}
	if calls[0].op != "start" || calls[0].jobID != job.ID || calls[0].detail != "script" {
		t.Fatalf("unexpected first call: %+v", calls[0])
	}
	var finished bool
	for _, c := range calls {
		if c.op == "finish" && c.detail == statusCompleted {
			finished = true
		}
	}
	if !finished {
		t.Fatalf("missing completed finish: %+v", calls)
	}

	events := r.Events().Since(0)
	if events[0].Type != EventAdmitted || events[len(events)-1].Type != EventCompleted {
		t.Fatalf("unexpected event sequence: %+v", events)
	}
}

func TestCloseInterruptsAndRejects(t *testing.T) {
	model := newFakeModel(200)
	model.blockOn = 1
	model.entered = make(chan struct{}, 1)
	model.release = make(chan struct{})
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript}, model)
	r := env.runner
	if err := r.SetScript(testScript()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.StartPodcast(); err != nil {
		t.Fatal(err)
	}
	<-model.entered

	closed := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		closed <- r.Close(ctx)
	}()
	time.Sleep(10 * time.Millisecond)
	close(model.release)

	if err := <-closed; err != nil {
		t.Fatalf("close: %v", err)
	}
	if r.Flags().PodcastAvailable {
		t.Fatal("shutdown should interrupt before stitching")
	}
	if _, err := r.StartScript(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestEventLogSince(t *testing.T) {
	log := NewEventLog(2)
	var seen []int64
	log.OnEvent(func(e Event) { seen = append(seen, e.Seq) })

	log.Publish(Event{Type: EventAdmitted})
	log.Publish(Event{Type: EventLineCompleted})
	log.Publish(Event{Type: EventCompleted})

	all := log.Since(0)
	if len(all) != 2 || all[0].Seq != 2 || all[1].Type != EventCompleted {
		t.Fatalf("unexpected retained events: %+v", all)
	}
	if got := log.Since(2); len(got) != 1 {
		t.Fatalf("expected 1 event after seq 2, got %d", len(got))
	}
	if len(seen) != 3 || log.LastSeq() != 3 {
		t.Fatalf("listener saw %v", seen)
	}
}

func TestInterruptEventPrecedesTerminalEvent(t *testing.T) {
	model := newFakeModel(200)
	model.blockOn = 1
	model.entered = make(chan struct{}, 1)
	model.release = make(chan struct{})
	finished := make(chan struct{})
	hook := &hookHandler{msg: "interrupt requested", onRecord: func() {
		// Free the worker while Interrupt is between its state change and its event.
		close(model.release)
		select {
		case <-finished:
		case <-time.After(200 * time.Millisecond):
		}
	}}
	env := newTestEnvWithLogger(t, &fakeGenerator{content: llm.MockScript}, model, slog.New(hook))
	r := env.runner

	var (
		mu     sync.Mutex
		events []Event
	)
	r.Events().OnEvent(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		if e.Type == EventInterrupted {
			close(finished)
		}
	})

	if err := r.SetScript(testScript()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.StartPodcast(); err != nil {
		t.Fatalf("start podcast: %v", err)
	}
	<-model.entered
	if err := r.Interrupt(); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	waitIdle(t, r)

	mu.Lock()
	defer mu.Unlock()
	var sawRequest bool
	for i, e := range events {
		if i > 0 && e.Seq <= events[i-1].Seq {
			t.Fatalf("listener saw events out of sequence: %+v", events)
		}
		if e.Message == "interrupt requested" {
			sawRequest = true
		}
	}
	if !sawRequest {
		t.Fatalf("missing interrupt request event: %+v", events)
	}
	last := events[len(events)-1]
	if last.Type != EventInterrupted {
		t.Fatalf("expected interrupted to be published last, got %+v", last)
	}
	if last.Flags != r.Flags() {
		t.Fatalf("last published flags %+v differ from current %+v", last.Flags, r.Flags())
	}

	calls := env.recorder.snapshot()
	if tail := calls[len(calls)-1]; tail.detail != string(EventInterrupted) {
		t.Fatalf("expected interrupted event recorded last, got %+v", calls)
	}
}

func TestScriptAdmissionClearsLineProgress(t *testing.T) {
	g := newGate()
	env := newTestEnv(t, &fakeGenerator{content: llm.MockScript, gate: g}, newFakeModel(100))
	r := env.runner
	if err := r.SetScript(testScript()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.StartPodcast(); err != nil {
		t.Fatalf("start podcast: %v", err)
	}
	waitIdle(t, r)
	if snap := r.Snapshot(); snap.Line != 3 || snap.TotalLines != 3 {
		t.Fatalf("unexpected podcast progress: %+v", snap)
	}

	r.SetChapters("Chapter 2")
	if _, err := r.StartScript(); err != nil {
		t.Fatalf("start script: %v", err)
	}
	snap := r.Snapshot()
	g.open()
	if snap.State != StateRunningScript || snap.Line != 0 || snap.TotalLines != 0 {
		t.Fatalf("script job should not report podcast progress: %+v", snap)
	}
	waitIdle(t, r)
}

func TestEmptyScriptResultRecordedOnSpan(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	for _, content := range []string{"x", "no speaker lines here"} {
		env := newTestEnv(t, &fakeGenerator{content: content}, newFakeModel(100))
		env.runner.SetChapters("Chapter 1")
		if _, err := env.runner.StartScript(); err != nil {
			t.Fatalf("start script: %v", err)
		}
		waitIdle(t, env.runner)
	}

	var recorded int
	for _, span := range spans.Ended() {
		if span.Name() != "script.generate" {
			continue
		}
		for _, ev := range span.Events() {
			if ev.Name == "exception" {
				recorded++
				break
			}
		}
	}
	if recorded != 2 {
		t.Fatalf("expected both empty results recorded on script spans, got %d", recorded)
	}
}
