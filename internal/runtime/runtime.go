package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/podcraft/internal/config"
	"github.com/loqalabs/podcraft/internal/eventstore"
	"github.com/loqalabs/podcraft/internal/jobs"
)

// History is the persisted job timeline. *eventstore.Store implements it.
type History interface {
	ListJobs(ctx context.Context, limit int) ([]eventstore.Job, error)
	ListJobEvents(ctx context.Context, jobID string, limit int) ([]eventstore.Event, error)
}

// Options wires the HTTP surface to the rest of the daemon.
type Options struct {
	Runner  *jobs.Runner
	History History
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Checks are consulted by /readyz; any false result reports not ready.
	Checks map[string]func() bool
}

type Runtime struct {
	cfg        config.Config
	opts       Options
	logger     *slog.Logger
	httpServer *http.Server
	upgrader   websocket.Upgrader
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, opts Options, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(slog.String("component", "http")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || sameHost(origin, r.Host)
			},
		},
	}
}

// Start serves HTTP until ctx is cancelled, then shuts the server down.
func (r *Runtime) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return r.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (r *Runtime) Serve(ctx context.Context, ln net.Listener) error {
	r.httpServer = &http.Server{
		Handler:           r.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", ln.Addr().String()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	failing := make([]string, 0)
	for name, check := range r.opts.Checks {
		if !check() {
			failing = append(failing, name)
		}
	}
	if !r.ready.Load() || len(failing) > 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failing": failing})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
