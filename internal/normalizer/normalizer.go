// Package normalizer maps raw producer alerts into the canonical schema
// (spec §4.4). Each Normalizer owns one monotonic sequence counter per
// source so synthesized alert IDs are stable and collision-free across a
// single run, as its contract requires.
package normalizer

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

// producerSeverityTable maps producer-specific severity spellings onto the
// canonical enum before the generic alert.ParseSeverity fallback runs.
// Producers are free to send their own vocabulary (e.g. a classifier that
// emits "warn"/"crit"); this table is where that vocabulary is taught to
// the pipeline without touching producer code.
var producerSeverityTable = map[string]alert.Severity{
	"informational": alert.SeverityInfo,
	"notice":        alert.SeverityLow,
	"warn":          alert.SeverityMedium,
	"warning":       alert.SeverityMedium,
	"error":         alert.SeverityHigh,
	"alert":         alert.SeverityHigh,
	"crit":          alert.SeverityCritical,
	"emergency":     alert.SeverityCritical,
}

// Normalizer holds the per-source sequence counters used to synthesize
// alert IDs (spec §4.4 step 2: "<source>_<monotonic-sequence>_<receive-
// time-micros>").
type Normalizer struct {
	log *slog.Logger

	mu   sync.Mutex
	seqs map[alert.Source]uint64
}

func New(log *slog.Logger) *Normalizer {
	return &Normalizer{
		log:  log.With("component", "normalizer"),
		seqs: make(map[alert.Source]uint64),
	}
}

// Normalize runs the steps of §4.4 in order over one raw producer payload.
// Any step failing yields a *alert.MalformedAlert; the caller is
// responsible for counting and dropping it, never propagating it further.
func (n *Normalizer) Normalize(raw []byte, receivedAt time.Time) (alert.Alert, error) {
	a, err := alert.Decode(raw)
	if err != nil {
		return alert.Alert{}, err
	}

	if a.Timestamp.IsZero() {
		a.Timestamp = receivedAt
	}

	if a.AlertID == "" {
		a.AlertID = n.synthesizeID(a.Source, receivedAt)
	}

	a.Severity = n.mapSeverity(a, raw)

	a = promoteMetadata(a)

	if len(a.Description) > 4096 {
		a.Description = a.Description[:4096]
	}
	if len(a.Title) > 256 {
		a.Title = a.Title[:256]
	}

	if err := alert.Validate(a); err != nil {
		return alert.Alert{}, err
	}

	return a, nil
}

func (n *Normalizer) synthesizeID(src alert.Source, receivedAt time.Time) string {
	n.mu.Lock()
	n.seqs[src]++
	seq := n.seqs[src]
	n.mu.Unlock()
	return string(src) + "_" + itoa(seq) + "_" + itoa(uint64(receivedAt.UnixMicro()))
}

// mapSeverity applies the producer-vocabulary table first, falling back to
// the generic canonical parser, so a producer's own spelling of "warn"
// still lands on the right enum value even though alert.Decode already ran
// the generic parse once. The producer's spelling is the payload's own
// "severity" field, or metadata "raw_severity" when that field is absent.
func (n *Normalizer) mapSeverity(a alert.Alert, payload []byte) alert.Severity {
	var wire struct {
		Severity string `json:"severity"`
	}
	_ = json.Unmarshal(payload, &wire)
	raw := wire.Severity
	if raw == "" {
		raw = a.MetaString("raw_severity")
	}
	if raw == "" {
		return a.Severity
	}
	if sev, ok := producerSeverityTable[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return sev
	}
	return a.Severity
}

// promoteMetadata lifts the well-known keys into the canonical metadata
// subtree, leaving free-form keys untouched (§4.4 step 4). Today the
// metadata map already stores these keys directly, so promotion is a
// normalization/cleanup pass: string-typed IPs and hostnames are trimmed,
// and confidence is clamped to [0, 1].
func promoteMetadata(a alert.Alert) alert.Alert {
	if a.Metadata == nil {
		return a
	}
	for _, key := range []string{"src_ip", "dst_ip", "hostname", "rule_id", "protocol", "mitre_attack"} {
		if v, ok := a.Metadata[key].(string); ok {
			a.Metadata[key] = strings.TrimSpace(v)
		}
	}
	if conf, ok := a.MetaFloat("confidence"); ok {
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		a.Metadata["confidence"] = conf
	}
	return a
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
