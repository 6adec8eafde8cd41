// Package sigstub is the network-signature producer stub: a stand-in for
// the out-of-scope packet-capture/signature-matching engine (spec §1) that
// emits synthetic signature-match alerts on an interval, exercising the
// same wire contract a real matcher would.
package sigstub

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

// Config tunes the stub's synthetic alert generation.
type Config struct {
	BindAddr string
	Interval time.Duration
	// SourceIPs is the pool of source addresses the stub rotates through,
	// so correlation demos (same src_ip, different titles) are possible.
	SourceIPs []string
}

func DefaultConfig(bind string) Config {
	return Config{
		BindAddr:  bind,
		Interval:  5 * time.Second,
		SourceIPs: []string{"10.0.0.5", "10.0.0.9", "192.168.1.20"},
	}
}

var signatures = []struct {
	title string
	ruleID string
	confidence float64
}{
	{"Port Scan", "sig-1001", 0.7},
	{"SQL Injection", "sig-1002", 0.85},
	{"SSH Brute Force", "sig-1003", 0.6},
}

// Stub implements producer.Producer for the network-signature source.
type Stub struct {
	base *producer.Base
	cfg  Config
	rng  *rand.Rand
}

func New(cfg Config, log *slog.Logger) (*Stub, error) {
	pub, err := messaging.NewPublisher(messaging.DefaultPublisherConfig(cfg.BindAddr), log)
	if err != nil {
		return nil, fmt.Errorf("sigstub: binding publisher: %w", err)
	}
	return &Stub{
		base: &producer.Base{Kind: alert.SourceNIDSSignature, Pub: pub, Log: log.With("component", "sigstub")},
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (s *Stub) Kind() alert.Source { return alert.SourceNIDSSignature }

func (s *Stub) Run(ctx context.Context) error {
	go s.base.RunHeartbeat(ctx)

	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			sig := signatures[s.rng.Intn(len(signatures))]
			srcIP := s.cfg.SourceIPs[s.rng.Intn(len(s.cfg.SourceIPs))]
			err := s.base.Emit(map[string]any{
				"title":       sig.title,
				"description": fmt.Sprintf("signature %s matched for %s", sig.ruleID, srcIP),
				"metadata": map[string]any{
					"src_ip":     srcIP,
					"rule_id":    sig.ruleID,
					"confidence": sig.confidence,
					"protocol":   "tcp",
				},
			})
			if err != nil {
				s.base.Log.Warn("emit failed", "error", err)
			}
		}
	}
}

func (s *Stub) Shutdown(ctx context.Context) error { return s.base.Shutdown(ctx) }
