package correlator

import (
	"time"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

// BuiltinRules returns the example rule set of spec §4.8. Rule text is
// parameterization, not contract; operators are free to replace this list
// entirely via correlator.rules configuration (spec §6.6).
func BuiltinRules() []alert.CorrelationRule {
	return []alert.CorrelationRule{
		{
			RuleID:       "port-scan-then-exploit",
			Name:         "Port scan followed by exploitation",
			Description:  "A scan-like network event followed by an exploit-like event from the same source IP.",
			SeverityName: "CRITICAL",
			TimeWindowMS: int(10 * time.Minute / time.Millisecond),
			SameActor:    true,
			RequiredEvents: []alert.EventMatcher{
				{Source: "nids_signature", Pattern: "scan"},
				{Source: "nids_signature", Pattern: "injection|exploit|overflow"},
			},
		},
		{
			RuleID:       "bruteforce-then-privesc",
			Name:         "Brute force then successful action",
			Description:  "A host-log brute-force pattern followed by a privilege-escalation pattern on the same hostname.",
			SeverityName: "CRITICAL",
			TimeWindowMS: int(30 * time.Minute / time.Millisecond),
			SameActor:    true,
			RequiredEvents: []alert.EventMatcher{
				{Source: "hids_log", Pattern: "brute.?force|failed password"},
				{Source: "hids_log", Pattern: "privilege|sudo|root escalation"},
			},
		},
		{
			RuleID:       "anomaly-burst-host-network",
			Name:         "Anomaly burst across host and network",
			Description:  "An anomaly event and a host event sharing an IP within a short window.",
			SeverityName: "HIGH",
			TimeWindowMS: int(15 * time.Minute / time.Millisecond),
			SameActor:    true,
			RequiredEvents: []alert.EventMatcher{
				{Source: "nids_anomaly", Pattern: ".*"},
				{Source: "hids_process", Pattern: ".*"},
			},
		},
	}
}
