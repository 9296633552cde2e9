package protocol

import "time"

// Flags mirrors the job indicators polled by the UI.
type Flags struct {
	GeneratingScript   bool `json:"is_generating_script"`
	ScriptAvailable    bool `json:"is_script_available"`
	GeneratingPodcast  bool `json:"is_generating_podcast"`
	PodcastAvailable   bool `json:"is_podcast_available"`
	InterruptRequested bool `json:"interrupt_requested"`
}

// FlagUpdate is broadcast whenever the job indicators change.
type FlagUpdate struct {
	Flags
	JobID     string    `json:"job_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// JobEvent carries one job lifecycle notification.
type JobEvent struct {
	Seq        int64     `json:"seq"`
	JobID      string    `json:"job_id"`
	Kind       string    `json:"kind"`
	Type       string    `json:"type"`
	Line       int       `json:"line,omitempty"`
	TotalLines int       `json:"total_lines,omitempty"`
	Message    string    `json:"message,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	Flags      Flags     `json:"flags"`
	Timestamp  time.Time `json:"timestamp"`
}

// ControlRequest asks the daemon to admit or interrupt a job.
type ControlRequest struct {
	Action   string `json:"action"`
	Chapters string `json:"chapters,omitempty"`
}

// ControlReply answers a ControlRequest. Code is empty on success.
type ControlReply struct {
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	JobID  string `json:"job_id,omitempty"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

const (
	ActionGenerateScript  = "generate_script"
	ActionGeneratePodcast = "generate_podcast"
	ActionInterrupt       = "interrupt"
)

const (
	SubjectFlags          = "podcraft.progress.flags"
	SubjectJobEventPrefix = "podcraft.job"
	SubjectControl        = "podcraft.ctrl"
)

// JobEventSubject returns the subject for one event type, e.g. podcraft.job.completed.
func JobEventSubject(eventType string) string {
	return SubjectJobEventPrefix + "." + eventType
}
