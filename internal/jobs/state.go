package jobs

import (
	"errors"
	"time"

	"github.com/loqalabs/podcraft/internal/audio"
	"github.com/loqalabs/podcraft/internal/tts"
	"github.com/loqalabs/podcraft/internal/voice"
)

var (
	ErrBusy              = errors.New("a job is already running")
	ErrNoScriptAvailable = errors.New("no script available")
	ErrEmptyScriptResult = errors.New("llm returned an empty script")
	ErrNoChapters        = errors.New("no chapters provided")
	ErrNoRunningJob      = errors.New("no job is running")
	ErrClosed            = errors.New("job runner is shut down")
	ErrPromptNotFound    = errors.New("prompt not found")

	ErrVoiceNotFound = voice.ErrVoiceNotFound
	ErrAudioRead     = audio.ErrAudioRead
	ErrSynthesis     = tts.ErrSynthesis
)

// Kind identifies what a job produces.
type Kind string

const (
	KindScript  Kind = "script"
	KindPodcast Kind = "podcast"
)

// State is the runner's single job slot.
type State string

const (
	StateIdle           State = "idle"
	StateRunningScript  State = "running_script"
	StateRunningPodcast State = "running_podcast"
)

// Flags are the externally visible job indicators.
type Flags struct {
	GeneratingScript   bool `json:"is_generating_script"`
	ScriptAvailable    bool `json:"is_script_available"`
	GeneratingPodcast  bool `json:"is_generating_podcast"`
	PodcastAvailable   bool `json:"is_podcast_available"`
	InterruptRequested bool `json:"interrupt_requested"`
}

// Snapshot is a consistent copy of runner state taken under one lock.
type Snapshot struct {
	Flags
	State      State  `json:"state"`
	JobID      string `json:"job_id,omitempty"`
	Line       int    `json:"line"`
	TotalLines int    `json:"total_lines"`
	OutputPath string `json:"output_path,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// Job describes an admitted job.
type Job struct {
	ID         string    `json:"job_id"`
	Kind       Kind      `json:"kind"`
	OutputDir  string    `json:"output_dir,omitempty"`
	AdmittedAt time.Time `json:"admitted_at"`

	done chan struct{}
}

// Status values recorded when a job ends.
const (
	statusCompleted   = "completed"
	statusFailed      = "failed"
	statusInterrupted = "interrupted"
)

// ErrorCode maps an error to the short code reported to HTTP and bus clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrNoScriptAvailable):
		return "no_script_available"
	case errors.Is(err, ErrNoChapters):
		return "no_chapters"
	case errors.Is(err, ErrNoRunningJob):
		return "no_running_job"
	case errors.Is(err, ErrVoiceNotFound):
		return "voice_not_found"
	case errors.Is(err, ErrPromptNotFound):
		return "prompt_not_found"
	case errors.Is(err, ErrEmptyScriptResult):
		return "empty_script_result"
	case errors.Is(err, ErrSynthesis):
		return "synthesis_failed"
	case errors.Is(err, ErrAudioRead):
		return "audio_read_failed"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "internal"
	}
}
