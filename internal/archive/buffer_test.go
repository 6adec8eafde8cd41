package archive

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBuffer(t *testing.T) *Buffer {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewBuffer(client, testLogger())
}

func TestBufferPushPopRoundTrip(t *testing.T) {
	buf := newTestBuffer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a := alert.Alert{AlertID: "a" + string(rune('0'+i)), Source: alert.SourceHIDSLog, Title: "t"}
		if err := buf.Push(ctx, a); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	n, err := buf.Len(ctx)
	if err != nil || n != 3 {
		t.Fatalf("expected buffer length 3, got %d (err=%v)", n, err)
	}

	popped, err := buf.Pop(ctx, 10)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(popped) != 3 {
		t.Fatalf("expected 3 popped alerts, got %d", len(popped))
	}
	// FIFO order: pushed a0,a1,a2 -> popped a0,a1,a2
	if popped[0].AlertID != "a0" || popped[2].AlertID != "a2" {
		t.Fatalf("unexpected FIFO order: %+v", popped)
	}

	empty, err := buf.Len(ctx)
	if err != nil || empty != 0 {
		t.Fatalf("expected buffer drained, got %d", empty)
	}
}

func TestBufferPopMoreThanAvailable(t *testing.T) {
	buf := newTestBuffer(t)
	ctx := context.Background()

	if err := buf.Push(ctx, alert.Alert{AlertID: "only", Source: alert.SourceHIDSLog, Title: "t"}); err != nil {
		t.Fatalf("push: %v", err)
	}

	popped, err := buf.Pop(ctx, 5)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(popped) != 1 {
		t.Fatalf("expected 1 popped alert, got %d", len(popped))
	}
}
