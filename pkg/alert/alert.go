// Package alert defines the canonical alert schema shared by every stage
// of the aggregation pipeline: the wire codec, the severity enum, and the
// correlation types the correlator and dedup cache project alerts into.
package alert

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Source identifies which producer kind emitted an alert, or that it was
// synthesized by the correlator.
type Source string

const (
	SourceNIDSSignature Source = "nids_signature"
	SourceNIDSAnomaly   Source = "nids_anomaly"
	SourceHIDSFile      Source = "hids_file"
	SourceHIDSProcess   Source = "hids_process"
	SourceHIDSLog       Source = "hids_log"
	SourceCorrelation   Source = "correlation"
)

func (s Source) Valid() bool {
	switch s {
	case SourceNIDSSignature, SourceNIDSAnomaly, SourceHIDSFile, SourceHIDSProcess, SourceHIDSLog, SourceCorrelation:
		return true
	default:
		return false
	}
}

// Severity is an ordered enum; numeric ordering must be preserved by every
// consumer (sinks sort on it, the correlator compares it).
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "LOW"
	}
}

// ParseSeverity accepts producer-supplied severity strings in any case and
// maps them onto the canonical enum. Unrecognized strings default to LOW,
// matching the normalizer's §4.4 defaulting rule.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return SeverityInfo
	case "LOW", "":
		return SeverityLow
	case "MEDIUM", "MED", "WARNING", "WARN":
		return SeverityMedium
	case "HIGH":
		return SeverityHigh
	case "CRITICAL", "CRIT":
		return SeverityCritical
	default:
		return SeverityLow
	}
}

const (
	maxTitleLen       = 256
	maxDescriptionLen = 4096
	MaxPayloadBytes   = 64 * 1024
)

// Alert is the canonical unified alert record (spec data model §3.1).
type Alert struct {
	AlertID         string         `json:"alert_id"`
	Timestamp       time.Time      `json:"timestamp"`
	Source          Source         `json:"source"`
	Severity        Severity       `json:"-"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	RiskScore       int            `json:"risk_score,omitempty"`
	Category        string         `json:"category,omitempty"`
	DedupCount      int            `json:"dedup_count,omitempty"`
	CorrelationRefs []string       `json:"correlation_refs,omitempty"`
}

// wireAlert mirrors the bit-exact sink-boundary schema of spec.md §6.3,
// where severity is carried both as an upper-case string and its numeric
// twin, and timestamp is an RFC3339-with-milliseconds string.
type wireAlert struct {
	AlertID         string         `json:"alert_id"`
	Timestamp       string         `json:"timestamp"`
	Source          Source         `json:"source"`
	SeverityName    string         `json:"severity"`
	SeverityNum     int            `json:"severity_num"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	RiskScore       int            `json:"risk_score,omitempty"`
	Category        string         `json:"category,omitempty"`
	DedupCount      int            `json:"dedup_count,omitempty"`
	CorrelationRefs []string       `json:"correlation_refs,omitempty"`
}

const timestampLayout = "2006-01-02T15:04:05.000Z"

// MalformedAlert is the only failure kind the codec produces; callers drop
// and count it, they never propagate it further up the pipeline.
type MalformedAlert struct {
	Reason string
}

func (e *MalformedAlert) Error() string {
	return fmt.Sprintf("malformed alert: %s", e.Reason)
}

// Decode parses a raw producer payload into a canonical Alert. It enforces
// the size cap and the known-source allowlist but does not apply
// normalizer-only defaulting (ID synthesis, metadata promotion) — that is
// internal/normalizer's job. Decode is used both for producer envelopes and
// for re-decoding canonical alerts already written to a sink.
func Decode(raw []byte) (Alert, error) {
	if len(raw) > MaxPayloadBytes {
		return Alert{}, &MalformedAlert{Reason: fmt.Sprintf("payload exceeds %d bytes", MaxPayloadBytes)}
	}

	var w wireAlert
	if err := json.Unmarshal(raw, &w); err != nil {
		return Alert{}, &MalformedAlert{Reason: "invalid json: " + err.Error()}
	}

	source := Source(strings.ToLower(strings.TrimSpace(string(w.Source))))
	if source == "" {
		return Alert{}, &MalformedAlert{Reason: "missing source"}
	}
	if !source.Valid() {
		return Alert{}, &MalformedAlert{Reason: "unknown source: " + string(w.Source)}
	}

	var ts time.Time
	if w.Timestamp != "" {
		parsed, err := time.Parse(timestampLayout, w.Timestamp)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339Nano, w.Timestamp)
			if err != nil {
				return Alert{}, &MalformedAlert{Reason: "invalid timestamp: " + err.Error()}
			}
		}
		ts = parsed.UTC()
	}

	sev := SeverityLow
	if w.SeverityName != "" {
		sev = ParseSeverity(w.SeverityName)
	} else if w.SeverityNum > 0 {
		sev = Severity(w.SeverityNum)
	}

	if len(w.Title) > maxTitleLen {
		w.Title = w.Title[:maxTitleLen]
	}
	if len(w.Description) > maxDescriptionLen {
		w.Description = w.Description[:maxDescriptionLen]
	}

	return Alert{
		AlertID:         w.AlertID,
		Timestamp:       ts,
		Source:          source,
		Severity:        sev,
		Title:           w.Title,
		Description:     w.Description,
		Metadata:        w.Metadata,
		RiskScore:       w.RiskScore,
		Category:        w.Category,
		DedupCount:      w.DedupCount,
		CorrelationRefs: w.CorrelationRefs,
	}, nil
}

// Encode renders a canonical Alert to the bit-exact sink-boundary schema
// (spec.md §6.3): upper-case severity name plus numeric twin, millisecond
// UTC timestamp.
func Encode(a Alert) ([]byte, error) {
	w := wireAlert{
		AlertID:         a.AlertID,
		Timestamp:       a.Timestamp.UTC().Format(timestampLayout),
		Source:          a.Source,
		SeverityName:    a.Severity.String(),
		SeverityNum:     int(a.Severity),
		Title:           a.Title,
		Description:     a.Description,
		Metadata:        a.Metadata,
		RiskScore:       a.RiskScore,
		Category:        a.Category,
		DedupCount:      a.DedupCount,
		CorrelationRefs: a.CorrelationRefs,
	}
	return json.Marshal(w)
}

// Validate enforces the invariants of §3.1 that Decode alone cannot, since
// they depend on fields the normalizer fills in (alert_id, correlation_refs
// cardinality).
func Validate(a Alert) error {
	if a.AlertID == "" {
		return &MalformedAlert{Reason: "missing alert_id"}
	}
	if !a.Source.Valid() {
		return &MalformedAlert{Reason: "unknown source: " + string(a.Source)}
	}
	if a.Title == "" {
		return &MalformedAlert{Reason: "missing title"}
	}
	if a.Source == SourceCorrelation && len(a.CorrelationRefs) < 2 {
		return &MalformedAlert{Reason: "correlation alert requires >= 2 correlation_refs"}
	}
	if len(a.CorrelationRefs) > 0 && len(a.CorrelationRefs) < 2 {
		return &MalformedAlert{Reason: "correlation_refs present but has fewer than 2 entries"}
	}
	return nil
}

// Metadata accessors for the well-known keys promoted by the normalizer
// (§4.4 step 4). Values are stored as-is in the open Metadata map; these
// helpers centralize the string coercion so callers never repeat type
// assertions.

func (a Alert) MetaString(key string) string {
	if a.Metadata == nil {
		return ""
	}
	v, ok := a.Metadata[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (a Alert) MetaFloat(key string) (float64, bool) {
	if a.Metadata == nil {
		return 0, false
	}
	switch v := a.Metadata[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func (a Alert) SrcIP() string  { return a.MetaString("src_ip") }
func (a Alert) DstIP() string  { return a.MetaString("dst_ip") }
func (a Alert) Hostname() string { return a.MetaString("hostname") }
func (a Alert) RuleID() string { return a.MetaString("rule_id") }
