package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

// Flusher drains the Redis buffer into the unified_alerts table via a
// temp-table COPY, matching the teacher's bulk-insert shape.
type Flusher struct {
	buf   *Buffer
	pool  *pgxpool.Pool
	log   *slog.Logger
	every time.Duration
	batch int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewFlusher(buf *Buffer, pool *pgxpool.Pool, log *slog.Logger) *Flusher {
	return &Flusher{
		buf:    buf,
		pool:   pool,
		log:    log.With("component", "archive_flusher"),
		every:  DefaultFlushInterval,
		batch:  DefaultBatchSize,
		stopCh: make(chan struct{}),
	}
}

func (f *Flusher) Start() {
	f.wg.Add(1)
	go f.run()
	f.log.Info("archive flusher started", "interval", f.every, "batch_size", f.batch)
}

func (f *Flusher) Stop() {
	close(f.stopCh)
	f.wg.Wait()
}

func (f *Flusher) run() {
	defer f.wg.Done()
	t := time.NewTicker(f.every)
	defer t.Stop()
	for {
		select {
		case <-f.stopCh:
			f.flush()
			return
		case <-t.C:
			f.flush()
		}
	}
}

func (f *Flusher) flush() {
	ctx := context.Background()

	size, err := f.buf.Len(ctx)
	if err != nil {
		f.log.Error("failed to read archive buffer size", "error", err)
		return
	}
	if size == 0 {
		return
	}

	alerts, err := f.buf.Pop(ctx, f.batch)
	if err != nil {
		f.log.Error("failed to pop from archive buffer", "error", err)
		return
	}
	if len(alerts) == 0 {
		return
	}

	start := time.Now()
	if err := f.copyAlerts(ctx, alerts); err != nil {
		f.log.Error("failed to archive alerts to postgres", "error", err, "count", len(alerts))
		// Push the batch back onto the pop end of the list in reverse, so
		// the next flush retries it oldest first.
		for i := len(alerts) - 1; i >= 0; i-- {
			data, err := json.Marshal(alerts[i])
			if err != nil {
				continue
			}
			if err := f.buf.client.RPush(ctx, keyAlerts, data).Err(); err != nil {
				f.log.Error("failed to requeue archive batch", "error", err)
				break
			}
		}
		return
	}

	f.log.Info("archived alerts", "count", len(alerts), "remaining", size-int64(len(alerts)), "duration", time.Since(start))
}

// copyAlerts bulk-inserts via a temp staging table, exactly as the
// teacher's probe-result flusher does, so duplicate alert_ids (e.g. a
// retried delivery) are silently ignored instead of erroring the batch.
func (f *Flusher) copyAlerts(ctx context.Context, alerts []alert.Alert) error {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		CREATE TEMP TABLE unified_alerts_staging (
			alert_id TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			source TEXT NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			metadata JSONB,
			risk_score SMALLINT,
			category TEXT,
			dedup_count INTEGER,
			correlation_refs TEXT[]
		) ON COMMIT DROP
	`)
	if err != nil {
		return err
	}

	rows := make([][]any, len(alerts))
	for i, a := range alerts {
		metadata, err := json.Marshal(a.Metadata)
		if err != nil {
			return err
		}
		rows[i] = []any{
			a.AlertID, a.Timestamp, string(a.Source), a.Severity.String(), a.Title,
			a.Description, json.RawMessage(metadata), int16(a.RiskScore), a.Category, a.DedupCount,
			a.CorrelationRefs,
		}
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"unified_alerts_staging"},
		[]string{"alert_id", "received_at", "source", "severity", "title", "description",
			"metadata", "risk_score", "category", "dedup_count", "correlation_refs"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO unified_alerts (alert_id, received_at, source, severity, title, description,
		                            metadata, risk_score, category, dedup_count, correlation_refs)
		SELECT alert_id, received_at, source, severity, title, description,
		       metadata, risk_score, category, dedup_count, correlation_refs
		FROM unified_alerts_staging
		ON CONFLICT (alert_id) DO NOTHING
	`)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}
