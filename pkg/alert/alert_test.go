package alert

import (
	"strings"
	"testing"
	"time"
)

func TestDecodeRejectsUnknownSource(t *testing.T) {
	_, err := Decode([]byte(`{"source":"bogus","title":"x"}`))
	if err == nil {
		t.Fatal("expected malformed alert error for unknown source")
	}
	var me *MalformedAlert
	if !asMalformed(err, &me) {
		t.Fatalf("expected *MalformedAlert, got %T", err)
	}
}

func TestDecodeRejectsOversizedPayload(t *testing.T) {
	big := strings.Repeat("a", MaxPayloadBytes+1)
	_, err := Decode([]byte(`{"source":"hids_log","title":"` + big + `"}`))
	if err == nil {
		t.Fatal("expected malformed alert error for oversized payload")
	}
}

func TestDecodeDefaultsSeverityToLow(t *testing.T) {
	a, err := Decode([]byte(`{"source":"nids_signature","title":"Port Scan"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Severity != SeverityLow {
		t.Fatalf("expected default severity LOW, got %v", a.Severity)
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !(SeverityInfo < SeverityLow && SeverityLow < SeverityMedium && SeverityMedium < SeverityHigh && SeverityHigh < SeverityCritical) {
		t.Fatal("severity numeric ordering must be monotonic INFO < LOW < MEDIUM < HIGH < CRITICAL")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := Alert{
		AlertID:   "nids_signature_1_123456",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 6*int(time.Millisecond), time.UTC),
		Source:    SourceNIDSSignature,
		Severity:  SeverityHigh,
		Title:     "Port Scan",
		Metadata:  map[string]any{"src_ip": "10.0.0.5"},
		RiskScore: 80,
		DedupCount: 1,
	}

	encoded, err := Encode(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	reencoded, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}

	if string(encoded) != string(reencoded) {
		t.Fatalf("round-trip mismatch:\n  first:  %s\n  second: %s", encoded, reencoded)
	}
}

func TestValidateRequiresCorrelationRefsCardinality(t *testing.T) {
	a := Alert{
		AlertID:         "correlation_1_1",
		Source:          SourceCorrelation,
		Title:           "Port scan then exploit",
		CorrelationRefs: []string{"only-one"},
	}
	if err := Validate(a); err == nil {
		t.Fatal("expected error: correlation alert with < 2 refs must fail validation")
	}
}

func TestValidateAcceptsWellFormedAlert(t *testing.T) {
	a := Alert{
		AlertID: "nids_signature_1_1",
		Source:  SourceNIDSSignature,
		Title:   "Port Scan",
	}
	if err := Validate(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func asMalformed(err error, target **MalformedAlert) bool {
	me, ok := err.(*MalformedAlert)
	if ok {
		*target = me
	}
	return ok
}
