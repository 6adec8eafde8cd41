package messaging

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	pub, err := NewPublisher(DefaultPublisherConfig("127.0.0.1:0"), testLogger())
	if err != nil {
		t.Fatalf("failed to bind publisher: %v", err)
	}
	defer pub.Close()

	sub := NewSubscriber(DefaultSubscriberConfig(pub.Addr().String()), testLogger())
	defer sub.Close()

	// Give the subscriber time to dial before sending; late joiners only
	// see messages published after connecting, per spec §4.2.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pub.Send([]byte("ping"))
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		msg, err := sub.Recv(ctx)
		cancel()
		if err == nil {
			if string(msg.Payload) != "ping" {
				t.Fatalf("expected ping, got %q", msg.Payload)
			}
			return
		}
	}
	t.Fatal("subscriber never received a message from publisher")
}

func TestSendDropsOnFullSubscriberBuffer(t *testing.T) {
	cfg := DefaultPublisherConfig("127.0.0.1:0")
	cfg.SendQueueDepth = 1
	pub, err := NewPublisher(cfg, testLogger())
	if err != nil {
		t.Fatalf("failed to bind publisher: %v", err)
	}
	defer pub.Close()

	sub := NewSubscriber(DefaultSubscriberConfig(pub.Addr().String()), testLogger())
	defer sub.Close()

	time.Sleep(200 * time.Millisecond)

	for i := 0; i < 2000; i++ {
		pub.Send([]byte("burst"))
	}

	if pub.DroppedOut() == 0 {
		t.Fatal("expected at least one dropped message under a burst larger than the send queue depth")
	}
}
