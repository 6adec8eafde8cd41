package supervisor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/idsaggd/idsaggd/internal/stats"
	"github.com/idsaggd/idsaggd/pkg/alert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRestartsCrashedChild(t *testing.T) {
	counters := stats.New()
	specs := []ProcessSpec{
		{Name: "sig", Kind: alert.SourceNIDSSignature, Command: "false"},
	}
	s := New(Config{HeartbeatInterval: time.Hour, RestartBackoffMax: 20 * time.Millisecond, ShutdownGrace: 200 * time.Millisecond}, specs, counters, testLogger())
	s.restartLimiter.SetLimit(1000)
	s.restartLimiter.SetBurst(1000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if counters.Snapshot().RestartCount >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if counters.Snapshot().RestartCount < 3 {
		t.Fatalf("expected at least 3 restarts of a crash-looping child, got %d", counters.Snapshot().RestartCount)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not shut down within grace period")
	}
}

func TestHealthCheckKillsStaleChild(t *testing.T) {
	counters := stats.New()
	specs := []ProcessSpec{
		{Name: "sig", Kind: alert.SourceNIDSSignature, Command: "sleep", Args: []string{"5"}},
	}
	s := New(Config{HeartbeatInterval: 20 * time.Millisecond, RestartBackoffMax: 20 * time.Millisecond, ShutdownGrace: 200 * time.Millisecond}, specs, counters, testLogger())
	s.restartLimiter.SetLimit(1000)
	s.restartLimiter.SetBurst(1000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Never call RecordHeartbeat: the long-sleeping child should be
	// killed and restarted by the health check loop well before its
	// own 5s sleep would exit naturally.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if counters.Snapshot().RestartCount >= 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected health check to kill and restart the stale child")
}

func TestRecordHeartbeatKeepsChildAlive(t *testing.T) {
	counters := stats.New()
	specs := []ProcessSpec{
		{Name: "sig", Kind: alert.SourceNIDSSignature, Command: "sleep", Args: []string{"1"}},
	}
	s := New(Config{HeartbeatInterval: 10 * time.Millisecond, ShutdownGrace: 200 * time.Millisecond}, specs, counters, testLogger())
	s.restartLimiter.SetLimit(1000)
	s.restartLimiter.SetBurst(1000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	stop := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(stop) {
		s.RecordHeartbeat(alert.SourceNIDSSignature)
		time.Sleep(5 * time.Millisecond)
	}

	if counters.Snapshot().RestartCount != 0 {
		t.Fatalf("expected no restarts while heartbeats keep arriving, got %d", counters.Snapshot().RestartCount)
	}
}
