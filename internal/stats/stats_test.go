package stats

import (
	"testing"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

func TestSnapshotCoherentUnderConcurrentUpdates(t *testing.T) {
	c := New()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			c.Received.Inc()
			c.ObserveAlert(alert.Alert{Source: alert.SourceHIDSLog, Severity: alert.SeverityLow})
		}
		close(done)
	}()
	<-done

	snap := c.Snapshot()
	if snap.Received != 1000 {
		t.Fatalf("expected received=1000, got %d", snap.Received)
	}
	if snap.PerSource[alert.SourceHIDSLog] != 1000 {
		t.Fatalf("expected per-source count 1000, got %d", snap.PerSource[alert.SourceHIDSLog])
	}
}

func TestReceivedEqualsSumOfTerminalCounters(t *testing.T) {
	c := New()
	c.Received.Store(10)
	c.Enqueued.Store(0)
	c.Suppressed.Store(4)
	c.Malformed.Store(1)
	c.DroppedIn.Store(2)
	c.Enqueued.Store(3)

	snap := c.Snapshot()
	sum := snap.Enqueued + snap.Suppressed + snap.Malformed + snap.DroppedIn
	if sum != snap.Received {
		t.Fatalf("invariant received = enqueued+suppressed+malformed+dropped_in violated: %d != %d", snap.Received, sum)
	}
}
