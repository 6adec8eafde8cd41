// Package manager implements the Alert Manager core of spec §4.7: a
// bounded intake queue, a fixed worker pool, dispatch to sinks and the
// correlator, and the per-alert statistics invariant
// `received = enqueued + suppressed + malformed + dropped_in`.
//
// The per-alert state machine of §4.7 is
//
//	RECEIVED -> NORMALIZED -> {SUPPRESSED|ENQUEUED} -> CORRELATED? -> DISPATCHED -> DONE
//
// Ingest walks an alert through RECEIVED/NORMALIZED/SUPPRESSED/ENQUEUED;
// worker goroutines walk it through CORRELATED?/DISPATCHED. Correlation
// alerts re-entering via the correlator's output channel start at ENQUEUED
// and skip CORRELATED, per §4.8's no-feedback rule.
package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/idsaggd/idsaggd/internal/correlator"
	"github.com/idsaggd/idsaggd/internal/dedup"
	"github.com/idsaggd/idsaggd/internal/enrich"
	"github.com/idsaggd/idsaggd/internal/normalizer"
	"github.com/idsaggd/idsaggd/internal/sink"
	"github.com/idsaggd/idsaggd/internal/stats"
	"github.com/idsaggd/idsaggd/pkg/alert"
)

// Config holds the tunables of spec §6.6 (manager.intake_capacity,
// manager.worker_count).
type Config struct {
	IntakeCapacity int
	WorkerCount    int
	ShutdownGrace  time.Duration
}

func DefaultConfig() Config {
	return Config{IntakeCapacity: 10_000, WorkerCount: 4, ShutdownGrace: 10 * time.Second}
}

// Manager owns the intake queue and worker pool. It is constructed once
// with its already-wired collaborators (normalizer, dedup cache, enrich
// chain, correlator, sinks); receivers call Ingest, Start launches the
// workers.
type Manager struct {
	log *slog.Logger
	cfg Config

	norm   *normalizer.Normalizer
	dedup  *dedup.Cache
	enrich *enrich.Chain
	corr   *correlator.Correlator
	sinks  []sink.Sink
	stats  *stats.Counters

	intake chan alert.Alert
	wg     sync.WaitGroup
}

// New wires a Manager from already-constructed collaborators.
func New(cfg Config, norm *normalizer.Normalizer, dedupCache *dedup.Cache, enrichChain *enrich.Chain, corr *correlator.Correlator, sinks []sink.Sink, counters *stats.Counters, log *slog.Logger) *Manager {
	if cfg.IntakeCapacity <= 0 {
		cfg.IntakeCapacity = DefaultConfig().IntakeCapacity
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultConfig().ShutdownGrace
	}
	return &Manager{
		log:    log.With("component", "manager"),
		cfg:    cfg,
		norm:   norm,
		dedup:  dedupCache,
		enrich: enrichChain,
		corr:   corr,
		sinks:  sinks,
		stats:  counters,
		intake: make(chan alert.Alert, cfg.IntakeCapacity),
	}
}

// Ingest runs a raw producer payload through RECEIVED -> NORMALIZED ->
// {SUPPRESSED|ENQUEUED}. It never blocks: a full intake queue drops the
// newest alert (§4.7's BackpressureDropIn policy).
func (m *Manager) Ingest(raw []byte) {
	m.stats.Received.Inc()

	a, err := m.norm.Normalize(raw, time.Now())
	if err != nil {
		m.stats.Malformed.Inc()
		return
	}

	passed, count, _ := m.dedup.Check(a)
	if !passed {
		m.stats.Suppressed.Inc()
		return
	}
	a.DedupCount = count

	a = m.enrich.Run(a)

	select {
	case m.intake <- a:
		m.stats.Enqueued.Inc()
		m.stats.ObserveAlert(a)
	default:
		m.stats.DroppedIn.Inc()
		m.log.Info("intake queue full, dropping newest alert", "alert_id", a.AlertID)
	}
}

// Start launches the fixed worker pool and the correlator's re-entry pump.
// Workers stop once ctx is canceled, completing any in-flight alert first.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.cfg.WorkerCount; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.runWorker(ctx)
		}()
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pumpCorrelationOutput(ctx)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.corr.Run(ctx)
	}()
}

// runWorker dequeues one alert at a time, forwards it to the correlator
// (CORRELATED?), then delivers it to every enabled sink (DISPATCHED).
func (m *Manager) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-m.intake:
			if !ok {
				return
			}
			m.dispatch(ctx, a, true)
		}
	}
}

// pumpCorrelationOutput delivers synthesized correlation alerts straight
// to the sinks; they skip the correlator (§4.8 "not re-projected") and
// skip dedup/enrichment since they are already canonical.
func (m *Manager) pumpCorrelationOutput(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-m.corr.Out:
			m.stats.CorrelatorFirings.Inc()
			m.stats.ObserveAlert(a)
			m.dispatch(ctx, a, false)
		}
	}
}

// dispatch forwards a to the correlator (if toCorrelator) and then every
// enabled sink, sequentially, per §4.7's worker contract.
func (m *Manager) dispatch(ctx context.Context, a alert.Alert, toCorrelator bool) {
	if toCorrelator {
		select {
		case m.corr.In <- a:
		case <-ctx.Done():
			return
		}
	}

	for _, s := range m.sinks {
		if err := s.Deliver(a); err != nil {
			m.log.Warn("sink delivery failed", "sink", s.Name(), "alert_id", a.AlertID, "error", err)
		}
	}

	m.stats.Dispatched.Inc()
}

// Shutdown waits up to the configured grace period for in-flight work to
// drain, then counts anything still queued as dropped_shutdown (§4.10,
// §5's cancellation policy). The caller must have already canceled the
// context passed to Start.
func (m *Manager) Shutdown() {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.cfg.ShutdownGrace):
	}

	if remaining := len(m.intake); remaining > 0 {
		m.stats.DroppedShutdown.Add(int64(remaining))
		m.log.Warn("alerts still queued at shutdown", "dropped_shutdown", remaining)
	}

	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			m.log.Warn("sink close failed", "sink", s.Name(), "error", err)
		}
	}
}

// IntakeLen reports the current depth of the intake queue.
func (m *Manager) IntakeLen() int { return len(m.intake) }
