// Package correlator implements the multi-rule temporal event correlator
// of spec §4.8: a single-writer goroutine owns per-IP/per-host/per-source
// indices plus a master deque, evicts events older than the widest rule
// window, and evaluates every rule on each ingested event. A firing
// synthesizes a new `source=correlation` alert and pushes it out on a
// dedicated channel; correlation alerts are never re-projected back in,
// breaking the feedback loop spec §9 calls out.
package correlator

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

// node is one event as it lives in the correlator's indices. Using a
// pointer lets the same event be referenced from events_all and every
// per-actor/source index without copying, while eviction from the head of
// any slice is O(1) amortized.
type node struct {
	ev alert.CorrelationEvent
}

// Config tunes the correlator (spec §6.6 correlator.*).
type Config struct {
	Rules           []alert.CorrelationRule
	MaxHistoryWindow time.Duration
	// CooldownOverride, if non-zero, replaces each rule's own time window
	// as the firing-suppression cooldown (spec §4.8's default is "equal to
	// the rule's time window").
	CooldownOverride time.Duration
}

// Correlator owns all correlation state. Every method that touches that
// state must only be called from the goroutine running Run — callers
// communicate exclusively through In and Out.
type Correlator struct {
	log   *slog.Logger
	rules []*alert.CorrelationRule
	maxWindow time.Duration
	cooldownOverride time.Duration

	eventsAll  []*node
	byIP       map[string][]*node
	byHost     map[string][]*node
	bySource   map[alert.Source][]*node

	suppressed map[string]time.Time // (rule_id|stable_signature) -> last fired

	ruleErrors map[string]int64

	In  chan alert.Alert
	Out chan alert.Alert

	ruleUpdates chan []*alert.CorrelationRule
}

// New validates and compiles every rule (disabling ones with bad regexes,
// per §4.8 failure semantics) and returns a ready-to-run Correlator.
func New(cfg Config, log *slog.Logger) *Correlator {
	c := &Correlator{
		log:              log.With("component", "correlator"),
		maxWindow:        cfg.MaxHistoryWindow,
		cooldownOverride: cfg.CooldownOverride,
		byIP:             make(map[string][]*node),
		byHost:           make(map[string][]*node),
		bySource:         make(map[alert.Source][]*node),
		suppressed:       make(map[string]time.Time),
		ruleErrors:       make(map[string]int64),
		In:               make(chan alert.Alert, 4096),
		Out:              make(chan alert.Alert, 1024),
		ruleUpdates:      make(chan []*alert.CorrelationRule, 1),
	}

	var widest time.Duration
	c.rules, widest = compileRules(cfg.Rules, c.log)
	if c.maxWindow < widest {
		c.maxWindow = widest + widest/10 // safety margin, per §3.3
	}
	if c.maxWindow <= 0 {
		c.maxWindow = 30 * time.Minute
	}

	return c
}

// compileRules normalizes each rule (compiling its regexes), dropping any
// that fail to compile, and reports the widest rule window seen.
func compileRules(rules []alert.CorrelationRule, log *slog.Logger) ([]*alert.CorrelationRule, time.Duration) {
	var compiled []*alert.CorrelationRule
	var widest time.Duration
	for i := range rules {
		r := rules[i]
		if err := r.Normalize(); err != nil {
			log.Error("correlation rule disabled: regex compile failed", "rule_id", r.RuleID, "error", err)
			continue
		}
		compiled = append(compiled, &r)
		if r.Window() > widest {
			widest = r.Window()
		}
	}
	return compiled, widest
}

// SetRules compiles rules and schedules them to replace the active rule
// set. Safe to call from any goroutine: the swap itself happens inside
// Run, preserving the correlator's single-writer access to its state. If a
// previously scheduled update hasn't been picked up yet, it is replaced
// rather than queued — reload-config only ever cares about the latest set.
func (c *Correlator) SetRules(rules []alert.CorrelationRule) {
	compiled, _ := compileRules(rules, c.log)
	select {
	case <-c.ruleUpdates:
	default:
	}
	c.ruleUpdates <- compiled
}

// Run is the correlator's single-writer goroutine: it pops events from In
// in order, and exits once ctx is canceled after finishing the in-flight
// event (spec §5 cancellation policy).
func (c *Correlator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-c.In:
			if !ok {
				return
			}
			c.ingest(a)
		case rules := <-c.ruleUpdates:
			c.log.Info("correlation rule set reloaded", "rule_count", len(rules))
			c.rules = rules
		}
	}
}

// ingest projects alert a into the correlator's state, evicts expired
// events, and evaluates every rule against the arriving event.
func (c *Correlator) ingest(a alert.Alert) {
	if a.Source == alert.SourceCorrelation {
		// Never re-projected, per §4.8 "Re-entry".
		return
	}

	now := time.Now()
	ev := alert.NewCorrelationEvent(a, now)
	n := &node{ev: ev}

	c.eventsAll = append(c.eventsAll, n)
	if ev.Actors.SrcIP != "" {
		c.byIP[ev.Actors.SrcIP] = append(c.byIP[ev.Actors.SrcIP], n)
	}
	if ev.Actors.DstIP != "" {
		c.byIP[ev.Actors.DstIP] = append(c.byIP[ev.Actors.DstIP], n)
	}
	if ev.Actors.Hostname != "" {
		c.byHost[ev.Actors.Hostname] = append(c.byHost[ev.Actors.Hostname], n)
	}
	c.bySource[ev.Source] = append(c.bySource[ev.Source], n)

	c.evictExpired(now)
	c.evaluateRules(ev)
}

// evictExpired removes every event whose age exceeds maxWindow from
// events_all and every index, per §3.2's invariant: "removed ... exactly
// when now − received_at > max_rule_window, not before."
func (c *Correlator) evictExpired(now time.Time) {
	for len(c.eventsAll) > 0 && now.Sub(c.eventsAll[0].ev.ReceivedAt) > c.maxWindow {
		stale := c.eventsAll[0]
		c.eventsAll = c.eventsAll[1:]
		evictFront(c.byIP, stale.ev.Actors.SrcIP, stale)
		evictFront(c.byIP, stale.ev.Actors.DstIP, stale)
		evictFront(c.byHost, stale.ev.Actors.Hostname, stale)
		evictFrontSource(c.bySource, stale.ev.Source, stale)
	}
}

func evictFront(idx map[string][]*node, key string, stale *node) {
	if key == "" {
		return
	}
	s := idx[key]
	for len(s) > 0 && s[0] == stale {
		s = s[1:]
	}
	if len(s) == 0 {
		delete(idx, key)
	} else {
		idx[key] = s
	}
}

func evictFrontSource(idx map[alert.Source][]*node, key alert.Source, stale *node) {
	s := idx[key]
	for len(s) > 0 && s[0] == stale {
		s = s[1:]
	}
	if len(s) == 0 {
		delete(idx, key)
	} else {
		idx[key] = s
	}
}

// evaluateRules runs every rule against the just-arrived event, per §4.8
// "Rule evaluation".
func (c *Correlator) evaluateRules(trigger alert.CorrelationEvent) {
	for _, rule := range c.rules {
		fired, refs, err := c.evaluateRule(rule, trigger)
		if err != nil {
			c.ruleErrors[rule.RuleID]++
			c.log.Warn("correlation rule evaluation error", "rule_id", rule.RuleID, "error", err)
			continue
		}
		if !fired {
			continue
		}
		c.fire(rule, refs)
	}
}

// evaluateRule implements steps 1-4 of §4.8's "Rule evaluation": candidate
// pool, per-matcher matching, same-actor restriction, and the
// min-distinct-events threshold. The triggering event must itself satisfy
// at least one matcher, guaranteeing it ends up among the refs (required
// by §4.8 step 5).
func (c *Correlator) evaluateRule(rule *alert.CorrelationRule, trigger alert.CorrelationEvent) (bool, []alert.CorrelationEvent, error) {
	cutoff := trigger.ReceivedAt.Add(-rule.Window())

	candidates := make([]alert.CorrelationEvent, 0, len(c.eventsAll))
	for i := len(c.eventsAll) - 1; i >= 0; i-- {
		ev := c.eventsAll[i].ev
		if ev.ReceivedAt.Before(cutoff) {
			break
		}
		candidates = append(candidates, ev)
	}
	// candidates is newest-first; reverse to chronological for deterministic
	// "most recent" selection below.
	for i, j := 0, len(candidates)-1; i < j; i, j = i+1, j-1 {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}

	triggerSatisfiesMatcher := make([]bool, len(rule.RequiredEvents))
	chosen := make([]alert.CorrelationEvent, len(rule.RequiredEvents))
	haveChosen := make([]bool, len(rule.RequiredEvents))

	for i := range rule.RequiredEvents {
		m := rule.RequiredEvents[i]
		triggerSatisfiesMatcher[i] = m.Matches(trigger)

		var pool []alert.CorrelationEvent
		for _, ev := range candidates {
			if !m.Matches(ev) {
				continue
			}
			if rule.SameActor && !ev.Actors.Shares(trigger.Actors) {
				continue
			}
			pool = append(pool, ev)
		}
		if len(pool) == 0 {
			return false, nil, nil
		}

		if triggerSatisfiesMatcher[i] {
			chosen[i] = trigger
		} else {
			chosen[i] = pool[len(pool)-1] // most recent
		}
		haveChosen[i] = true
	}

	triggerIncluded := false
	for _, ok := range triggerSatisfiesMatcher {
		if ok {
			triggerIncluded = true
			break
		}
	}
	if !triggerIncluded {
		return false, nil, nil
	}

	seen := make(map[string]alert.CorrelationEvent)
	for i, ok := range haveChosen {
		if ok {
			seen[chosen[i].EventID] = chosen[i]
		}
	}

	if len(seen) < rule.MinDistinctEvents {
		return false, nil, nil
	}

	distinct := make([]alert.CorrelationEvent, 0, len(seen))
	for _, ev := range seen {
		distinct = append(distinct, ev)
	}
	sort.Slice(distinct, func(i, j int) bool {
		return distinct[i].ReceivedAt.After(distinct[j].ReceivedAt) // most recent first
	})

	return true, distinct, nil
}

// fire applies the cooldown suppression check and, if not suppressed,
// synthesizes and emits the correlation alert.
func (c *Correlator) fire(rule *alert.CorrelationRule, refs []alert.CorrelationEvent) {
	ids := make([]string, len(refs))
	for i, ev := range refs {
		ids[i] = ev.EventID
	}

	sig := stableSignature(ids)
	key := rule.RuleID + "|" + sig
	cooldown := c.cooldownOverride
	if cooldown <= 0 {
		cooldown = rule.Window()
	}

	now := time.Now()
	if last, ok := c.suppressed[key]; ok && now.Sub(last) < cooldown {
		return
	}
	c.suppressed[key] = now

	actors := map[string]struct{}{}
	for _, ev := range refs {
		for _, v := range ev.Actors.NonEmpty() {
			actors[v] = struct{}{}
		}
	}
	actorList := make([]string, 0, len(actors))
	for v := range actors {
		actorList = append(actorList, v)
	}
	sort.Strings(actorList)

	out := alert.Alert{
		AlertID:         "correlation_" + uuid.NewString(),
		Timestamp:       now,
		Source:          alert.SourceCorrelation,
		Severity:        rule.Severity,
		Title:           rule.Name,
		Description:     rule.Description,
		CorrelationRefs: ids,
		Metadata: map[string]any{
			"rule_id":        rule.RuleID,
			"time_window_ms": rule.TimeWindowMS,
			"actors":         actorList,
		},
	}

	select {
	case c.Out <- out:
	default:
		c.log.Warn("correlation alert dropped: output channel full", "rule_id", rule.RuleID)
	}
}

func stableSignature(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	out := ""
	for i, id := range sorted {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}

// RuleErrorCount reports how many evaluation errors a rule has produced.
// It reads the correlator's map without locking, so it is only safe to
// call after Run has stopped; nothing in this repository calls it.
func (c *Correlator) RuleErrorCount(ruleID string) int64 {
	return c.ruleErrors[ruleID]
}
