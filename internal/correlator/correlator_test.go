package correlator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scanExploitRule() alert.CorrelationRule {
	return alert.CorrelationRule{
		RuleID:       "scan-then-exploit",
		Name:         "Port scan followed by exploitation",
		SeverityName: "CRITICAL",
		TimeWindowMS: 600_000,
		SameActor:    true,
		RequiredEvents: []alert.EventMatcher{
			{Source: "nids_signature", Pattern: "scan"},
			{Source: "nids_signature", Pattern: "injection"},
		},
	}
}

func newCorrelator(t *testing.T) (*Correlator, context.CancelFunc) {
	t.Helper()
	c := New(Config{Rules: []alert.CorrelationRule{scanExploitRule()}}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	return c, cancel
}

func sendAndWait(t *testing.T, c *Correlator, a alert.Alert) {
	t.Helper()
	c.In <- a
	// allow the single-writer goroutine to process before the test reads Out.
	time.Sleep(20 * time.Millisecond)
}

func TestCorrelatorFiresOnMatchingPairSameActor(t *testing.T) {
	c, cancel := newCorrelator(t)
	defer cancel()

	sendAndWait(t, c, alert.Alert{
		AlertID: "a1", Source: alert.SourceNIDSSignature, Title: "Port Scan",
		Metadata: map[string]any{"src_ip": "10.0.0.5"},
	})
	sendAndWait(t, c, alert.Alert{
		AlertID: "a2", Source: alert.SourceNIDSSignature, Title: "SQL Injection",
		Metadata: map[string]any{"src_ip": "10.0.0.5"},
	})

	select {
	case out := <-c.Out:
		if out.Source != alert.SourceCorrelation {
			t.Fatalf("expected correlation alert, got source %s", out.Source)
		}
		if len(out.CorrelationRefs) < 2 {
			t.Fatalf("expected >= 2 correlation refs, got %d", len(out.CorrelationRefs))
		}
		found1, found2 := false, false
		for _, id := range out.CorrelationRefs {
			if id == "a1" {
				found1 = true
			}
			if id == "a2" {
				found2 = true
			}
		}
		if !found1 || !found2 {
			t.Fatalf("expected refs to include both contributing alerts, got %v", out.CorrelationRefs)
		}
	default:
		t.Fatal("expected a correlation alert to fire for matching same-IP scan+exploit pair")
	}
}

func TestCorrelatorDoesNotFireForDifferentActors(t *testing.T) {
	c, cancel := newCorrelator(t)
	defer cancel()

	sendAndWait(t, c, alert.Alert{
		AlertID: "a1", Source: alert.SourceNIDSSignature, Title: "Port Scan",
		Metadata: map[string]any{"src_ip": "10.0.0.5"},
	})
	sendAndWait(t, c, alert.Alert{
		AlertID: "a2", Source: alert.SourceNIDSSignature, Title: "SQL Injection",
		Metadata: map[string]any{"src_ip": "10.0.0.9"},
	})

	select {
	case out := <-c.Out:
		t.Fatalf("expected no correlation alert for different source IPs, got one: %+v", out)
	default:
	}
}

func TestCorrelatorNeverReIngestsCorrelationAlerts(t *testing.T) {
	c, cancel := newCorrelator(t)
	defer cancel()

	c.In <- alert.Alert{
		AlertID: "synthetic", Source: alert.SourceCorrelation, Title: "Port scan followed by exploitation",
		CorrelationRefs: []string{"a1", "a2"},
	}
	time.Sleep(20 * time.Millisecond)

	if len(c.eventsAll) != 0 {
		t.Fatalf("expected correlation-sourced alert to be excluded from ingestion, eventsAll has %d entries", len(c.eventsAll))
	}
}

func TestCorrelatorEvictsEventsOlderThanWindow(t *testing.T) {
	// No rules: New widens MaxHistoryWindow to cover the widest rule window,
	// so any rule here would stretch the 30ms window to minutes.
	c := New(Config{MaxHistoryWindow: 30 * time.Millisecond}, testLogger())

	old := alert.NewCorrelationEvent(alert.Alert{AlertID: "old", Source: alert.SourceNIDSSignature, Title: "Port Scan"}, time.Now().Add(-40*time.Millisecond))
	c.eventsAll = append(c.eventsAll, &node{ev: old})
	c.bySource[old.Source] = append(c.bySource[old.Source], c.eventsAll[0])

	c.evictExpired(time.Now())

	if len(c.eventsAll) != 0 {
		t.Fatalf("expected event older than max_history_window to be evicted, got %d remaining", len(c.eventsAll))
	}
	if len(c.bySource[old.Source]) != 0 {
		t.Fatal("expected source index to be evicted in lockstep with events_all")
	}
}

func TestFiringSuppressedWithinCooldown(t *testing.T) {
	c, cancel := newCorrelator(t)
	defer cancel()

	sendAndWait(t, c, alert.Alert{AlertID: "a1", Source: alert.SourceNIDSSignature, Title: "Port Scan", Metadata: map[string]any{"src_ip": "10.0.0.5"}})
	sendAndWait(t, c, alert.Alert{AlertID: "a2", Source: alert.SourceNIDSSignature, Title: "SQL Injection", Metadata: map[string]any{"src_ip": "10.0.0.5"}})

	select {
	case <-c.Out:
	default:
		t.Fatal("expected first firing")
	}

	// Re-arrival of an event that would reconstruct the identical
	// contributing set must not re-fire within the cooldown.
	sendAndWait(t, c, alert.Alert{AlertID: "a2", Source: alert.SourceNIDSSignature, Title: "SQL Injection", Metadata: map[string]any{"src_ip": "10.0.0.5"}})

	select {
	case out := <-c.Out:
		t.Fatalf("expected re-firing of identical contributing set to be suppressed by cooldown, got %+v", out)
	default:
	}
}

func TestSetRulesReplacesActiveRuleSet(t *testing.T) {
	c, cancel := newCorrelator(t)
	defer cancel()

	// Swap in a rule set with no rules at all; a pair that previously
	// fired must no longer correlate.
	c.SetRules(nil)
	time.Sleep(20 * time.Millisecond)

	sendAndWait(t, c, alert.Alert{AlertID: "b1", Source: alert.SourceNIDSSignature, Title: "Port Scan", Metadata: map[string]any{"src_ip": "10.0.0.9"}})
	sendAndWait(t, c, alert.Alert{AlertID: "b2", Source: alert.SourceNIDSSignature, Title: "SQL Injection", Metadata: map[string]any{"src_ip": "10.0.0.9"}})

	select {
	case out := <-c.Out:
		t.Fatalf("expected no firing after rules were cleared, got %+v", out)
	default:
	}
}
