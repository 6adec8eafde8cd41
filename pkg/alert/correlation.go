package alert

import (
	"regexp"
	"strings"
	"time"
)

// Actors is the tuple of identifying attributes an alert can be indexed
// and matched on (spec data model §3.2).
type Actors struct {
	SrcIP    string
	DstIP    string
	Hostname string
}

// NonEmpty returns the actor values that are set, in a stable order.
func (a Actors) NonEmpty() []string {
	out := make([]string, 0, 3)
	if a.SrcIP != "" {
		out = append(out, a.SrcIP)
	}
	if a.DstIP != "" {
		out = append(out, a.DstIP)
	}
	if a.Hostname != "" {
		out = append(out, a.Hostname)
	}
	return out
}

// Shares reports whether a and b have at least one non-empty actor value
// in common.
func (a Actors) Shares(b Actors) bool {
	for _, v := range a.NonEmpty() {
		for _, w := range b.NonEmpty() {
			if v == w {
				return true
			}
		}
	}
	return false
}

// CorrelationEvent is the correlator's internal projection of an alert
// (spec data model §3.2). It is immutable once constructed.
type CorrelationEvent struct {
	EventID    string
	ReceivedAt time.Time
	Source     Source
	Severity   Severity
	Title      string
	Actors     Actors
	TextBlob   string
}

// NewCorrelationEvent projects a canonical alert into the correlator's
// internal representation.
func NewCorrelationEvent(a Alert, receivedAt time.Time) CorrelationEvent {
	parts := []string{a.Title, a.Description}
	for _, k := range []string{"rule_id", "mitre_attack", "protocol"} {
		if v := a.MetaString(k); v != "" {
			parts = append(parts, v)
		}
	}
	return CorrelationEvent{
		EventID:    a.AlertID,
		ReceivedAt: receivedAt,
		Source:     a.Source,
		Severity:   a.Severity,
		Title:      a.Title,
		Actors: Actors{
			SrcIP:    a.SrcIP(),
			DstIP:    a.DstIP(),
			Hostname: a.Hostname(),
		},
		TextBlob: strings.ToLower(strings.Join(parts, " ")),
	}
}

// EventMatcher names one required event within a CorrelationRule (§3.3).
// Source may be the wildcard "*" to match any source.
type EventMatcher struct {
	Source  string `yaml:"source"`
	Pattern string `yaml:"pattern"`

	compiled *regexp.Regexp
}

// Compile builds the matcher's case-insensitive regex. Called once at rule
// load time; a compile error disables the owning rule (§4.8 failure
// semantics), never the whole correlator.
func (m *EventMatcher) Compile() error {
	re, err := regexp.Compile("(?i)" + m.Pattern)
	if err != nil {
		return err
	}
	m.compiled = re
	return nil
}

// Matches reports whether the matcher's source and pattern both match e.
func (m *EventMatcher) Matches(e CorrelationEvent) bool {
	if m.compiled == nil {
		return false
	}
	if m.Source != "*" && Source(m.Source) != e.Source {
		return false
	}
	return m.compiled.MatchString(e.TextBlob)
}

// CorrelationRule describes a multi-stage attack pattern the correlator
// watches for (§3.3).
type CorrelationRule struct {
	RuleID            string         `yaml:"rule_id"`
	Name              string         `yaml:"name"`
	Description       string         `yaml:"description"`
	Severity          Severity       `yaml:"-"`
	SeverityName      string         `yaml:"severity"`
	TimeWindowMS      int            `yaml:"time_window_ms"`
	RequiredEvents    []EventMatcher `yaml:"required_events"`
	SameActor         bool           `yaml:"same_actor"`
	MinDistinctEvents int            `yaml:"min_distinct_events"`
}

// Window returns the rule's time window as a duration.
func (r CorrelationRule) Window() time.Duration {
	return time.Duration(r.TimeWindowMS) * time.Millisecond
}

// Normalize fills derived fields (severity enum, default min distinct
// events) and compiles every matcher. Returns the first compile error
// encountered, if any.
func (r *CorrelationRule) Normalize() error {
	r.Severity = ParseSeverity(r.SeverityName)
	if r.MinDistinctEvents <= 0 {
		r.MinDistinctEvents = len(r.RequiredEvents)
	}
	for i := range r.RequiredEvents {
		if err := r.RequiredEvents[i].Compile(); err != nil {
			return err
		}
	}
	return nil
}
