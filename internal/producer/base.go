package producer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/idsaggd/idsaggd/internal/messaging"
	"github.com/idsaggd/idsaggd/pkg/alert"
)

// Base wires a producer stub to its publisher endpoint and gives it a
// heartbeat envelope helper (spec §3.5 [NEW]), so every stub's Run loop
// only needs to implement "what alert to emit next".
type Base struct {
	Kind   alert.Source
	Pub    *messaging.Publisher
	Log    *slog.Logger
	HBEvery time.Duration
}

// Emit marshals a raw producer alert (no alert_id, no receive-time
// required — the normalizer fills those in) and sends it non-blocking
// through the publisher.
func (b *Base) Emit(a map[string]any) error {
	a["source"] = string(b.Kind)
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	b.Pub.Send(data)
	return nil
}

// heartbeatEnvelope is the liveness-only message of spec §3.5.
type heartbeatEnvelope struct {
	Source    string `json:"source"`
	Heartbeat bool   `json:"heartbeat"`
}

// RunHeartbeat publishes a heartbeat envelope on HBEvery until ctx is
// canceled. Stubs call this in their own goroutine alongside alert
// generation.
func (b *Base) RunHeartbeat(ctx context.Context) {
	interval := b.HBEvery
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			data, _ := json.Marshal(heartbeatEnvelope{Source: string(b.Kind), Heartbeat: true})
			b.Pub.Send(data)
		}
	}
}

// Shutdown gives the publisher's connection writers up to the deadline in
// ctx to flush already-queued sends, then closes the publisher socket.
func (b *Base) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Pub.Close()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
