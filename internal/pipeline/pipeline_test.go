package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/idsaggd/idsaggd/internal/config"
	"github.com/idsaggd/idsaggd/pkg/alert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPipelineEndToEndDeliversToFileSink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.jsonl")

	cfg := config.DefaultConfig()
	cfg.Sinks.Console.Enabled = false
	cfg.Sinks.File.Enabled = true
	cfg.Sinks.File.Path = path
	cfg.Sinks.File.FlushEveryN = 1
	cfg.Sinks.File.FlushIntervalMS = 50

	p, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Shutdown()

	p.manager.Ingest([]byte(`{"source":"hids_log","title":"Auth Failure","metadata":{"hostname":"h1"}}`))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the alert to be flushed to the file sink within the deadline")
}

func TestPipelineStatsReflectsDispatch(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sinks.Console.Enabled = true

	p, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Shutdown()

	p.manager.Ingest([]byte(`{"source":"nids_signature","title":"Port Scan","metadata":{"src_ip":"10.0.0.1"}}`))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.Stats().Dispatched >= 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected at least one dispatched alert")
}

func TestIsHeartbeatRecognizesEnvelope(t *testing.T) {
	if !isHeartbeat([]byte(`{"source":"nids_signature","heartbeat":true}`)) {
		t.Fatal("expected a heartbeat:true envelope to be recognized")
	}
	if isHeartbeat([]byte(`{"source":"hids_process","title":"Process Count Threshold Exceeded"}`)) {
		t.Fatal("a real alert without heartbeat:true must not be treated as a heartbeat")
	}
	if isHeartbeat([]byte(`not json`)) {
		t.Fatal("malformed payloads are not heartbeats")
	}
}

func TestSourceForProducerMatchesCommandForProducer(t *testing.T) {
	// Every name commandForProducer special-cases must also be special-cased
	// here, or the supervisor's restart wiring and the ingress heartbeat
	// wiring silently disagree about which child a producer's name refers to.
	cases := []struct {
		name string
		want alert.Source
	}{
		{"nids_signature", alert.SourceNIDSSignature},
		{"nids_anomaly", alert.SourceNIDSAnomaly},
		{"hids", alert.SourceHIDSProcess},
	}
	for _, c := range cases {
		if got := sourceForProducer(c.name); got != c.want {
			t.Fatalf("sourceForProducer(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestPipelineReloadRulesNoopWhenCorrelatorDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Correlator.Enabled = false

	p, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.ReloadRules("/nonexistent/path/does/not/matter.yaml"); err != nil {
		t.Fatalf("expected ReloadRules to no-op when the correlator is disabled, got: %v", err)
	}
}

func TestPipelineReloadRulesAppliesNewRuleSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idsaggd.yaml")
	yamlContent := `
correlator:
  enabled: true
  rules: []
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}

	cfg := config.DefaultConfig()
	p, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.ReloadRules(path); err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}
}
