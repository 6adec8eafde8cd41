package dedup

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleAlert(id string) alert.Alert {
	return alert.Alert{
		AlertID: id,
		Source:  alert.SourceNIDSSignature,
		Title:   "Port Scan",
		Metadata: map[string]any{
			"src_ip": "10.0.0.5",
		},
	}
}

func TestCheckSuppressesWithinWindow(t *testing.T) {
	c, err := New(Config{Window: time.Minute, MaxEntries: 10}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	first, count, _ := c.Check(sampleAlert("a1"))
	if !first {
		t.Fatal("first occurrence must pass")
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}

	for i := 0; i < 9; i++ {
		ok, _, origID := c.Check(sampleAlert("a2"))
		if ok {
			t.Fatalf("duplicate #%d should be suppressed", i)
		}
		if origID != "a1" {
			t.Fatalf("expected original alert id a1, got %s", origID)
		}
	}

	_, count, _ = c.Check(sampleAlert("a3"))
	if count != 11 {
		t.Fatalf("expected running count 11 after 11 identical alerts, got %d", count)
	}
}

func TestCheckAllowsAfterWindowExpires(t *testing.T) {
	c, err := New(Config{Window: 10 * time.Millisecond, MaxEntries: 10}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	c.Check(sampleAlert("a1"))
	time.Sleep(20 * time.Millisecond)

	ok, count, _ := c.Check(sampleAlert("a2"))
	if !ok {
		t.Fatal("expected pass-through once the dedup window has elapsed")
	}
	if count != 1 {
		t.Fatalf("expected fresh count 1 after expiry, got %d", count)
	}
}

func TestCapacityEvictsOldestLastSeen(t *testing.T) {
	c, err := New(Config{Window: time.Hour, MaxEntries: 2}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	a := sampleAlert("a1")
	a.Metadata = map[string]any{"src_ip": "10.0.0.1"}
	b := sampleAlert("b1")
	b.Metadata = map[string]any{"src_ip": "10.0.0.2"}
	d := sampleAlert("d1")
	d.Metadata = map[string]any{"src_ip": "10.0.0.3"}

	c.Check(a)
	time.Sleep(2 * time.Millisecond)
	c.Check(b)
	time.Sleep(2 * time.Millisecond)

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries before eviction, got %d", c.Len())
	}

	c.Check(d)

	if c.Len() != 2 {
		t.Fatalf("expected capacity to stay at 2 after insert-triggered eviction, got %d", c.Len())
	}

	okA, _, _ := c.Check(a)
	if !okA {
		t.Fatal("expected a1's fingerprint to have been evicted (oldest last_seen) and pass again")
	}
}

func TestCheckHonorsRemoteSuppressionViaRedisMirror(t *testing.T) {
	s := miniredis.RunT(t)

	receiverA, err := New(Config{Window: time.Minute, MaxEntries: 10, RedisAddr: s.Addr()}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer receiverA.Close()

	ok, _, _ := receiverA.Check(sampleAlert("r1"))
	if !ok {
		t.Fatal("first occurrence on receiver A must pass")
	}

	receiverB, err := New(Config{Window: time.Minute, MaxEntries: 10, RedisAddr: s.Addr()}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer receiverB.Close()

	// receiverB has never seen this fingerprint locally, but receiverA
	// already mirrored it into the shared Redis instance.
	ok, count, origID := receiverB.Check(sampleAlert("r2"))
	if ok {
		t.Fatal("expected receiver B to honor receiver A's suppression via the redis mirror")
	}
	if origID != "r1" {
		t.Fatalf("expected original alert id r1 from the mirrored entry, got %s", origID)
	}
	if count < 2 {
		t.Fatalf("expected the running count to reflect both receivers' checks, got %d", count)
	}
}

func TestFingerprintStable(t *testing.T) {
	a := sampleAlert("x")
	b := sampleAlert("y")
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("fingerprint must depend only on source/title/src_ip/dst_ip/rule_id, not alert_id")
	}
}
