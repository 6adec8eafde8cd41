// Package archive implements the optional durable archive sink of
// spec §4.11: alerts are buffered in Redis for resilience against
// short database outages, then flushed in batches to Postgres via a
// temp-table COPY, grounded wholesale on
// control-plane/internal/buffer/{buffer,flusher}.go's write-ahead
// pattern, retargeted from probe results to unified alerts.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

const (
	keyAlerts = "idsaggd:archive_alerts"

	DefaultBatchSize     = 5000
	DefaultFlushInterval = 2 * time.Second
)

// Buffer is a Redis-backed write-ahead queue decoupling alert ingestion
// from the database, per spec §4.11.
type Buffer struct {
	client *redis.Client
	log    *slog.Logger
}

func NewBuffer(client *redis.Client, log *slog.Logger) *Buffer {
	return &Buffer{client: client, log: log.With("component", "archive_buffer")}
}

// Push appends one alert. Errors are the caller's to handle; the sink
// wrapper treats a push failure the same as any other sink delivery
// failure (logged, not fatal).
func (b *Buffer) Push(ctx context.Context, a alert.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert for archive: %w", err)
	}
	if err := b.client.LPush(ctx, keyAlerts, data).Err(); err != nil {
		return fmt.Errorf("push alert to archive buffer: %w", err)
	}
	return nil
}

// Pop drains up to max alerts in FIFO order.
func (b *Buffer) Pop(ctx context.Context, max int) ([]alert.Alert, error) {
	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, max)
	for i := 0; i < max; i++ {
		cmds[i] = pipe.RPop(ctx, keyAlerts)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pop alerts from archive buffer: %w", err)
	}

	out := make([]alert.Alert, 0, max)
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			continue
		}
		var a alert.Alert
		if err := json.Unmarshal(data, &a); err != nil {
			b.log.Warn("dropping unparseable archived alert", "error", err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (b *Buffer) Len(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, keyAlerts).Result()
}
