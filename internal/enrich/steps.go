package enrich

import (
	"github.com/idsaggd/idsaggd/pkg/alert"
)

// RiskScoreStep computes risk = severity_numeric*20 + round(confidence*20),
// clamped to [0, 100] (spec §4.6).
type RiskScoreStep struct{}

func (RiskScoreStep) Name() string { return "risk_score" }

func (RiskScoreStep) Apply(a alert.Alert) (alert.Alert, error) {
	score := int(a.Severity) * 20
	if conf, ok := a.MetaFloat("confidence"); ok {
		score += int(conf*20 + 0.5)
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	a.RiskScore = score
	return a, nil
}

// CategoryStep derives a coarse category tag from source and rule_id
// (spec §4.6).
type CategoryStep struct{}

func (CategoryStep) Name() string { return "category" }

func (CategoryStep) Apply(a alert.Alert) (alert.Alert, error) {
	switch a.Source {
	case alert.SourceNIDSSignature:
		a.Category = "network-signature"
	case alert.SourceNIDSAnomaly:
		a.Category = "network-anomaly"
	case alert.SourceHIDSFile, alert.SourceHIDSProcess, alert.SourceHIDSLog:
		a.Category = "host"
	case alert.SourceCorrelation:
		a.Category = "correlated"
	default:
		a.Category = "unknown"
	}
	if rule := a.RuleID(); rule != "" {
		a.Category = a.Category + "/" + rule
	}
	return a, nil
}
