// Package anomalystub is the network-anomaly producer stub: a stand-in for
// the out-of-scope flow-feature-extraction and ML inference engine (spec
// §1) that emits synthetic anomaly-score alerts on an interval.
package anomalystub

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/idsaggd/idsaggd/internal/messaging"
	"github.com/idsaggd/idsaggd/internal/producer"
	"github.com/idsaggd/idsaggd/pkg/alert"
)

type Config struct {
	BindAddr  string
	Interval  time.Duration
	SourceIPs []string
}

func DefaultConfig(bind string) Config {
	return Config{
		BindAddr:  bind,
		Interval:  7 * time.Second,
		SourceIPs: []string{"10.0.0.5", "10.0.0.9", "192.168.1.20"},
	}
}

// Stub implements producer.Producer for the network-anomaly source.
type Stub struct {
	base *producer.Base
	cfg  Config
	rng  *rand.Rand
}

func New(cfg Config, log *slog.Logger) (*Stub, error) {
	pub, err := messaging.NewPublisher(messaging.DefaultPublisherConfig(cfg.BindAddr), log)
	if err != nil {
		return nil, fmt.Errorf("anomalystub: binding publisher: %w", err)
	}
	return &Stub{
		base: &producer.Base{Kind: alert.SourceNIDSAnomaly, Pub: pub, Log: log.With("component", "anomalystub")},
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (s *Stub) Kind() alert.Source { return alert.SourceNIDSAnomaly }

func (s *Stub) Run(ctx context.Context) error {
	go s.base.RunHeartbeat(ctx)

	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			srcIP := s.cfg.SourceIPs[s.rng.Intn(len(s.cfg.SourceIPs))]
			zscore := 2.0 + s.rng.Float64()*4.0
			err := s.base.Emit(map[string]any{
				"title":       "Flow Volume Anomaly",
				"description": fmt.Sprintf("flow z-score %.2f for %s", zscore, srcIP),
				"metadata": map[string]any{
					"src_ip":     srcIP,
					"rule_id":    "anomaly-flow-volume",
					"confidence": clamp01(zscore / 6.0),
					"z_score":    zscore,
				},
			})
			if err != nil {
				s.base.Log.Warn("emit failed", "error", err)
			}
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *Stub) Shutdown(ctx context.Context) error { return s.base.Shutdown(ctx) }
