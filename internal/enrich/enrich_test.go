package enrich

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRiskScoreClamped(t *testing.T) {
	a := alert.Alert{Severity: alert.SeverityCritical, Metadata: map[string]any{"confidence": 1.0}}
	out, err := RiskScoreStep{}.Apply(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.RiskScore != 100 {
		t.Fatalf("expected risk score 100, got %d", out.RiskScore)
	}
}

func TestCategoryDerivesFromSourceAndRule(t *testing.T) {
	a := alert.Alert{Source: alert.SourceNIDSSignature, Metadata: map[string]any{"rule_id": "port-scan"}}
	out, err := CategoryStep{}.Apply(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Category != "network-signature/port-scan" {
		t.Fatalf("unexpected category: %s", out.Category)
	}
}

type failingStep struct{}

func (failingStep) Name() string { return "failing" }
func (failingStep) Apply(a alert.Alert) (alert.Alert, error) {
	return alert.Alert{}, errors.New("boom")
}

func TestChainSkipsFailingStepAndPreservesIdentity(t *testing.T) {
	c := NewChain(testLogger(), failingStep{})
	in := alert.Alert{AlertID: "keep-me", Source: alert.SourceHIDSLog, Severity: alert.SeverityMedium}
	out := c.Run(in)

	if out.AlertID != "keep-me" {
		t.Fatalf("enrichment must never change alert identity, got %q", out.AlertID)
	}
	if c.ErrorCount("failing") != 1 {
		t.Fatalf("expected failing step's error counter to advance, got %d", c.ErrorCount("failing"))
	}
	if out.Category == "" {
		t.Fatal("expected category step (which did not fail) to still have applied")
	}
}
