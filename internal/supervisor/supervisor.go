// Package supervisor implements the Integration Controller of spec §4.10:
// it launches producer processes, tracks their heartbeat liveness, restarts
// crashed or unhealthy producers with exponential backoff, and drains on
// shutdown. Concurrency shape is grounded on agent/agent.go's multi-
// goroutine error fan-in and agent/internal/updater's single-flight guard,
// generalized from self-update to child-process supervision.
package supervisor

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/idsaggd/idsaggd/internal/stats"
	"github.com/idsaggd/idsaggd/pkg/alert"
)

// ProcessSpec describes one producer child process.
type ProcessSpec struct {
	Name    string
	Kind    alert.Source
	Command string
	Args    []string
}

// Config holds the tunables of spec §6.6 (supervisor.heartbeat_interval_ms,
// supervisor.restart_backoff_max_ms, shutdown_grace_ms).
type Config struct {
	HeartbeatInterval time.Duration
	RestartBackoffMax time.Duration
	HealthyResetAfter time.Duration
	ShutdownGrace     time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		RestartBackoffMax: 60 * time.Second,
		HealthyResetAfter: 5 * time.Minute,
		ShutdownGrace:     10 * time.Second,
	}
}

type childState struct {
	mu            sync.Mutex
	lastHeartbeat time.Time
	cancel        context.CancelFunc
}

// Supervisor manages a fixed set of producer child processes.
type Supervisor struct {
	log   *slog.Logger
	cfg   Config
	specs []ProcessSpec
	stats *stats.Counters

	// restartLimiter paces restart attempts across all children so a
	// pathologically crash-looping producer cannot busy-loop the
	// supervisor faster than the backoff schedule intends; it complements,
	// rather than replaces, the per-child exponential backoff below.
	restartLimiter *rate.Limiter

	mu       sync.Mutex
	children map[string]*childState

	wg sync.WaitGroup
}

func New(cfg Config, specs []ProcessSpec, counters *stats.Counters, log *slog.Logger) *Supervisor {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.RestartBackoffMax <= 0 {
		cfg.RestartBackoffMax = DefaultConfig().RestartBackoffMax
	}
	if cfg.HealthyResetAfter <= 0 {
		cfg.HealthyResetAfter = DefaultConfig().HealthyResetAfter
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultConfig().ShutdownGrace
	}
	return &Supervisor{
		log:            log.With("component", "supervisor"),
		cfg:            cfg,
		specs:          specs,
		stats:          counters,
		restartLimiter: rate.NewLimiter(rate.Every(time.Second), 3),
		children:       make(map[string]*childState),
	}
}

// Run launches every child and its health-check loop. It blocks until ctx
// is canceled, then waits for all children to exit (bounded by
// cfg.ShutdownGrace).
func (s *Supervisor) Run(ctx context.Context) {
	for _, spec := range s.specs {
		cs := &childState{lastHeartbeat: time.Now()}
		s.mu.Lock()
		s.children[spec.Name] = cs
		s.mu.Unlock()

		s.wg.Add(1)
		go func(spec ProcessSpec, cs *childState) {
			defer s.wg.Done()
			s.superviseChild(ctx, spec, cs)
		}(spec, cs)

		s.wg.Add(1)
		go func(spec ProcessSpec, cs *childState) {
			defer s.wg.Done()
			s.healthCheckLoop(ctx, spec, cs)
		}(spec, cs)
	}

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		s.log.Warn("shutdown grace period elapsed with children still running")
	}
}

// superviseChild runs spec.Command, restarting it with exponential backoff
// on exit (spec §4.10): 1s doubling to a 60s cap, reset after
// HealthyResetAfter of continuous uptime.
func (s *Supervisor) superviseChild(ctx context.Context, spec ProcessSpec, cs *childState) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		childCtx, cancel := context.WithCancel(ctx)
		cs.mu.Lock()
		cs.cancel = cancel
		cs.mu.Unlock()

		_ = s.restartLimiter.Wait(ctx)

		start := time.Now()
		cmd := exec.CommandContext(childCtx, spec.Command, spec.Args...)
		err := cmd.Run()
		cancel()

		uptime := time.Since(start)

		if ctx.Err() != nil {
			return
		}
		s.stats.RestartCount.Inc()

		if err != nil {
			s.log.Warn("producer exited, scheduling restart", "name", spec.Name, "uptime", uptime, "error", err)
		} else {
			s.log.Info("producer exited cleanly, scheduling restart", "name", spec.Name, "uptime", uptime)
		}

		if uptime >= s.cfg.HealthyResetAfter {
			backoff = time.Second
		}
		if backoff > s.cfg.RestartBackoffMax {
			backoff = s.cfg.RestartBackoffMax
		}
		wait := backoff
		backoff *= 2

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// healthCheckLoop marks a producer unhealthy and kills it for restart if no
// heartbeat or alert has been recorded for 3x the heartbeat interval
// (spec §4.10).
func (s *Supervisor) healthCheckLoop(ctx context.Context, spec ProcessSpec, cs *childState) {
	t := time.NewTicker(s.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cs.mu.Lock()
			stale := time.Since(cs.lastHeartbeat) > 3*s.cfg.HeartbeatInterval
			cancel := cs.cancel
			cs.mu.Unlock()

			if stale {
				s.log.Warn("producer unhealthy: no heartbeat within 3x interval, killing for restart", "name", spec.Name)
				if cancel != nil {
					cancel()
				}
			}
		}
	}
}

// RecordHeartbeat is called whenever any alert or heartbeat envelope from
// a producer's source is observed (by the receiver pipeline), keeping the
// health check loop's liveness clock current.
func (s *Supervisor) RecordHeartbeat(kind alert.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, spec := range s.specs {
		if spec.Kind != kind {
			continue
		}
		if cs, ok := s.children[spec.Name]; ok {
			cs.mu.Lock()
			cs.lastHeartbeat = time.Now()
			cs.mu.Unlock()
		}
	}
}
