package jobs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/podcraft/internal/bus"
	"github.com/loqalabs/podcraft/internal/config"
	"github.com/loqalabs/podcraft/internal/protocol"
)

const jobStream = "PODCRAFT_JOBS"

// Service bridges the runner onto NATS: job events and flag changes are published, and
// control requests on podcraft.ctrl admit or interrupt jobs.
type Service struct {
	cfg    config.BusConfig
	bus    *bus.Client
	runner *Runner
	sub    *nats.Subscription
	ready  atomic.Bool
	logger *slog.Logger

	mu        sync.Mutex
	lastFlags Flags
}

func NewService(cfg config.BusConfig, busClient *bus.Client, runner *Runner, logger *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		runner: runner,
		logger: logger.With(slog.String("component", "job-bus")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.bus.EnsureStream(jobStream, []string{protocol.SubjectJobEventPrefix + ".>"}, 7*24*time.Hour); err != nil {
		// core NATS still carries the events without persistence
		s.logger.Warn("job event stream unavailable", slogError(err))
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectControl, s.handleControl)
	if err != nil {
		return fmt.Errorf("subscribe control requests: %w", err)
	}
	s.sub = sub
	s.mu.Lock()
	s.lastFlags = s.runner.Flags()
	s.mu.Unlock()
	s.runner.Events().OnEvent(s.publishEvent)
	s.ready.Store(true)
	return nil
}

func (s *Service) Close() {
	s.ready.Store(false)
	if s.sub != nil {
		_ = s.sub.Drain()
	}
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.ready.Load() && s.bus.Healthy())
}

func (s *Service) handleControl(msg *nats.Msg) {
	var req protocol.ControlRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode control request", slogError(err))
		s.respond(msg, protocol.ControlReply{Code: "bad_request", Error: err.Error()})
		return
	}

	reply := protocol.ControlReply{Action: req.Action}
	var (
		job Job
		err error
	)
	switch req.Action {
	case protocol.ActionGenerateScript:
		if req.Chapters != "" {
			s.runner.SetChapters(req.Chapters)
		}
		job, err = s.runner.StartScript()
	case protocol.ActionGeneratePodcast:
		job, err = s.runner.StartPodcast()
	case protocol.ActionInterrupt:
		err = s.runner.Interrupt()
	default:
		err = fmt.Errorf("unknown action %q", req.Action)
		reply.Code = "bad_request"
	}
	if err != nil {
		if reply.Code == "" {
			reply.Code = ErrorCode(err)
		}
		reply.Error = err.Error()
	} else {
		reply.OK = true
		reply.JobID = job.ID
	}
	s.respond(msg, reply)
}

func (s *Service) respond(msg *nats.Msg, reply protocol.ControlReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to answer control request", slogError(err))
	}
}

func (s *Service) publishEvent(ev Event) {
	if !s.ready.Load() {
		return
	}
	if ev.JobID != "" {
		msg := protocol.JobEvent{
			Seq:        ev.Seq,
			JobID:      ev.JobID,
			Kind:       string(ev.Kind),
			Type:       string(ev.Type),
			Line:       ev.Line,
			TotalLines: ev.TotalLines,
			Message:    ev.Message,
			OutputPath: ev.OutputPath,
			Flags:      protocol.Flags(ev.Flags),
			Timestamp:  ev.Timestamp,
		}
		if err := s.bus.PublishJSON(protocol.JobEventSubject(string(ev.Type)), msg); err != nil {
			s.logger.Warn("failed to publish job event", slogError(err))
		}
	}

	s.mu.Lock()
	changed := ev.Flags != s.lastFlags
	s.lastFlags = ev.Flags
	s.mu.Unlock()
	if !changed {
		return
	}
	update := protocol.FlagUpdate{Flags: protocol.Flags(ev.Flags), JobID: ev.JobID, Timestamp: ev.Timestamp}
	if err := s.bus.PublishJSON(protocol.SubjectFlags, update); err != nil {
		s.logger.Warn("failed to publish flags", slogError(err))
	}
}
