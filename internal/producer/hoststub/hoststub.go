// Package hoststub is the host producer stub: a stand-in for the
// out-of-scope file-hash scanner, process baseliner, and log regex engine
// (spec §1) that samples the live process count via gopsutil and emits a
// hids_process alert when it exceeds ProcessCountWarn, giving the pipeline
// a realistic (not purely synthetic) host source. FDPercentWarn is carried
// in Config but no sample checks it, and no hids_log alerts are emitted.
package hoststub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/idsaggd/idsaggd/internal/messaging"
	"github.com/idsaggd/idsaggd/internal/producer"
	"github.com/idsaggd/idsaggd/pkg/alert"
)

// Config tunes sampling cadence and the thresholds that turn a sample into
// an alert.
type Config struct {
	BindAddr           string
	Interval           time.Duration
	Hostname           string
	ProcessCountWarn   int
	FDPercentWarn      float64
}

func DefaultConfig(bind, hostname string) Config {
	return Config{
		BindAddr:         bind,
		Interval:         10 * time.Second,
		Hostname:         hostname,
		ProcessCountWarn: 400,
		FDPercentWarn:    0.8,
	}
}

// Stub implements producer.Producer for the host source. It emits
// hids_process alerts when the live process count exceeds
// ProcessCountWarn, a simple realistic stand-in for a process-baselining
// detector firing on an unexpected fork bomb or runaway spawn pattern.
type Stub struct {
	base *producer.Base
	cfg  Config
}

func New(cfg Config, log *slog.Logger) (*Stub, error) {
	pub, err := messaging.NewPublisher(messaging.DefaultPublisherConfig(cfg.BindAddr), log)
	if err != nil {
		return nil, fmt.Errorf("hoststub: binding publisher: %w", err)
	}
	return &Stub{
		base: &producer.Base{Kind: alert.SourceHIDSProcess, Pub: pub, Log: log.With("component", "hoststub")},
		cfg:  cfg,
	}, nil
}

func (s *Stub) Kind() alert.Source { return alert.SourceHIDSProcess }

func (s *Stub) Run(ctx context.Context) error {
	go s.base.RunHeartbeat(ctx)

	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.sampleOnce(ctx)
		}
	}
}

func (s *Stub) sampleOnce(ctx context.Context) {
	pids, err := gopsprocess.PidsWithContext(ctx)
	if err != nil {
		s.base.Log.Warn("sampling process list failed", "error", err)
		return
	}

	if len(pids) <= s.cfg.ProcessCountWarn {
		return
	}

	if err := s.base.Emit(map[string]any{
		"title":       "Process Count Threshold Exceeded",
		"description": fmt.Sprintf("%d live processes on %s exceeds baseline of %d", len(pids), s.cfg.Hostname, s.cfg.ProcessCountWarn),
		"metadata": map[string]any{
			"hostname":   s.cfg.Hostname,
			"rule_id":    "host-process-count",
			"confidence": 0.5,
			"proc_count": len(pids),
		},
	}); err != nil {
		s.base.Log.Warn("emit failed", "error", err)
	}
}

func (s *Stub) Shutdown(ctx context.Context) error { return s.base.Shutdown(ctx) }
