package jobs

import (
	"sync"
	"time"
)

// EventType classifies messages emitted during job execution.
type EventType string

const (
	EventAdmitted      EventType = "admitted"
	EventLineCompleted EventType = "line_completed"
	EventInterrupted   EventType = "interrupted"
	EventFailed        EventType = "failed"
	EventCompleted     EventType = "completed"
	EventStateChanged  EventType = "state_changed"
)

// Event is a sequenced job notification. Flags hold the values right after the change.
type Event struct {
	Seq        int64     `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	JobID      string    `json:"job_id,omitempty"`
	Kind       Kind      `json:"kind,omitempty"`
	Type       EventType `json:"type"`
	Line       int       `json:"line,omitempty"`
	TotalLines int       `json:"total_lines,omitempty"`
	Message    string    `json:"message,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	Flags      Flags     `json:"flags"`
}

// EventLog stores recent events, provides incremental reads and fans out to listeners.
type EventLog struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	listeners []func(Event)
}

// NewEventLog creates a bounded in-memory event buffer.
func NewEventLog(maxEvents int) *EventLog {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &EventLog{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// OnEvent registers fn to be called after every Publish. fn must not block or call
// back into the Runner that owns the log.
func (l *EventLog) OnEvent(fn func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Publish appends one event and assigns sequence and timestamp.
func (l *EventLog) Publish(event Event) Event {
	l.mu.Lock()
	l.nextSeq++
	event.Seq = l.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		trim := len(l.events) - l.maxEvents
		l.events = append([]Event(nil), l.events[trim:]...)
	}
	listeners := append([]func(Event){}, l.listeners...)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (l *EventLog) Since(seq int64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, 0, len(l.events))
	for _, event := range l.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq returns the latest sequence number.
func (l *EventLog) LastSeq() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextSeq
}
