package manager

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/idsaggd/idsaggd/internal/correlator"
	"github.com/idsaggd/idsaggd/internal/dedup"
	"github.com/idsaggd/idsaggd/internal/enrich"
	"github.com/idsaggd/idsaggd/internal/normalizer"
	"github.com/idsaggd/idsaggd/internal/sink"
	"github.com/idsaggd/idsaggd/internal/stats"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, intakeCap int) (*Manager, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	console := sink.NewConsole(&buf)

	dedupCache, err := dedup.New(dedup.Config{Window: time.Minute, MaxEntries: 100_000}, testLogger())
	if err != nil {
		t.Fatalf("dedup: %v", err)
	}
	t.Cleanup(func() { dedupCache.Close() })

	corr := correlator.New(correlator.Config{}, testLogger())

	m := New(Config{IntakeCapacity: intakeCap, WorkerCount: 4, ShutdownGrace: time.Second},
		normalizer.New(testLogger()), dedupCache, enrich.NewChain(testLogger()), corr,
		[]sink.Sink{console}, stats.New(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	t.Cleanup(cancel)

	return m, &buf
}

func TestSingleAlertReachesSink(t *testing.T) {
	m, _ := newTestManager(t, 100)

	m.Ingest([]byte(`{"source":"nids_signature","title":"Port Scan","metadata":{"src_ip":"10.0.0.5"}}`))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap := m.stats.Snapshot()
		if snap.Dispatched >= 1 {
			if snap.Received != 1 || snap.Enqueued != 1 {
				t.Fatalf("unexpected snapshot: %+v", snap)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("alert was never dispatched")
}

func TestDeduplicationCollapsesRepeats(t *testing.T) {
	m, _ := newTestManager(t, 1000)

	for i := 0; i < 10; i++ {
		m.Ingest([]byte(`{"source":"nids_signature","title":"Port Scan","metadata":{"src_ip":"10.0.0.5"}}`))
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap := m.stats.Snapshot()
		if snap.Received == 10 {
			if snap.Enqueued != 1 {
				t.Fatalf("expected exactly 1 enqueued alert out of 10 identical inputs, got %d", snap.Enqueued)
			}
			if snap.Suppressed != 9 {
				t.Fatalf("expected 9 suppressed, got %d", snap.Suppressed)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("received count never reached 10")
}

func TestBackpressureDropsNewestWhenIntakeFull(t *testing.T) {
	m, _ := newTestManager(t, 1)

	for i := 0; i < 50; i++ {
		m.Ingest([]byte(`{"source":"nids_signature","title":"Unique ` + string(rune('a'+i)) + `","metadata":{"rule_id":"r` + string(rune('a'+i)) + `"}}`))
	}

	time.Sleep(50 * time.Millisecond)
	snap := m.stats.Snapshot()
	if snap.DroppedIn == 0 {
		t.Fatal("expected at least one dropped_in alert once the intake queue saturates")
	}
	if snap.Received != snap.Enqueued+snap.Suppressed+snap.Malformed+snap.DroppedIn {
		t.Fatalf("stats invariant violated: %+v", snap)
	}
}
