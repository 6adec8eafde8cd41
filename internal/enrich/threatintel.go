package enrich

import (
	"context"
	"log/slog"
	"time"

	"github.com/idsaggd/idsaggd/internal/secrets"
	"github.com/idsaggd/idsaggd/pkg/alert"
)

// ThreatIntelStep tags alerts whose src_ip/dst_ip appears on a static local
// reputation list loaded at startup. It resolves its (currently unused by
// the lookup itself, but required to be configured) API credential through
// internal/secrets at construction time so a misconfigured credential
// fails fast at startup rather than on every alert; the lookup itself makes
// no network calls, keeping the step side-effect-free and bounded-latency
// per spec §4.6.
type ThreatIntelStep struct {
	log            *slog.Logger
	reputation     map[string]string // ip -> tag
	credentialized bool
}

// NewThreatIntelStep loads the static reputation list and, if enabled,
// resolves the threat-intel API credential once so downstream live lookups
// (out of scope here) could reuse the same step's resolved credential.
func NewThreatIntelStep(ctx context.Context, store secrets.Store, reputation map[string]string, log *slog.Logger) (*ThreatIntelStep, error) {
	step := &ThreatIntelStep{
		log:        log.With("component", "enrich.threat_intel"),
		reputation: reputation,
	}
	if store != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := store.GetCredential(ctx, secrets.ThreatIntelAPIKeyName); err != nil {
			return nil, err
		}
		step.credentialized = true
	}
	return step, nil
}

func (s *ThreatIntelStep) Name() string { return "threat_intel" }

func (s *ThreatIntelStep) Apply(a alert.Alert) (alert.Alert, error) {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	if tag, ok := s.reputation[a.SrcIP()]; ok {
		a.Metadata["threat_intel_src"] = tag
	}
	if tag, ok := s.reputation[a.DstIP()]; ok {
		a.Metadata["threat_intel_dst"] = tag
	}
	return a, nil
}
