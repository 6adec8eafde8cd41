package normalizer

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeSynthesizesStableIDs(t *testing.T) {
	n := New(testLogger())
	now := time.Now()

	first, err := n.Normalize([]byte(`{"source":"nids_signature","title":"Port Scan"}`), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := n.Normalize([]byte(`{"source":"nids_signature","title":"Port Scan"}`), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.AlertID == second.AlertID {
		t.Fatalf("expected distinct synthesized IDs, got %q twice", first.AlertID)
	}
	if !bytes.HasPrefix([]byte(first.AlertID), []byte("nids_signature_")) {
		t.Fatalf("expected alert_id prefixed by source, got %q", first.AlertID)
	}
}

func TestNormalizeStampsReceiveTimeWhenMissing(t *testing.T) {
	n := New(testLogger())
	now := time.Now()

	a, err := n.Normalize([]byte(`{"source":"hids_log","title":"auth failure"}`), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Timestamp.Equal(now) {
		t.Fatalf("expected timestamp to be stamped to receive time %v, got %v", now, a.Timestamp)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := New(testLogger())
	now := time.Now()

	first, err := n.Normalize([]byte(`{"source":"nids_anomaly","title":"Flow Spike","metadata":{"src_ip":"10.0.0.9 "}}`), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encoded, err := alert.Encode(first)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	second, err := n.Normalize(encoded, now)
	if err != nil {
		t.Fatalf("unexpected error on re-normalize: %v", err)
	}

	reencoded, err := alert.Encode(second)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(encoded) != string(reencoded) {
		t.Fatalf("re-running the normalizer on a canonical alert must be a no-op:\n  first:  %s\n  second: %s", encoded, reencoded)
	}
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	n := New(testLogger())
	if _, err := n.Normalize([]byte(`{"source":"not-a-source","title":"x"}`), time.Now()); err == nil {
		t.Fatal("expected malformed alert error")
	}
}
