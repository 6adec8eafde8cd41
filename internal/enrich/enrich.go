// Package enrich implements the ordered, side-effect-free enrichment chain
// of spec §4.6. Steps never change an alert's identity (alert_id) and never
// fail the pipeline: a step that errors is skipped and an error counter
// advances instead.
package enrich

import (
	"log/slog"

	"go.uber.org/atomic"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

// Step is one pure enrichment stage over a canonical alert.
type Step interface {
	Name() string
	Apply(a alert.Alert) (alert.Alert, error)
}

// Chain runs its steps in order over every alert that passes dedup.
type Chain struct {
	log   *slog.Logger
	steps []Step

	errors map[string]*atomic.Int64
}

// NewChain builds the default chain: risk score, category tag, then
// whatever optional steps are supplied (e.g. a configured ThreatIntelStep).
func NewChain(log *slog.Logger, optional ...Step) *Chain {
	c := &Chain{
		log:    log.With("component", "enrich"),
		errors: make(map[string]*atomic.Int64),
	}
	c.steps = append(c.steps, RiskScoreStep{}, CategoryStep{})
	c.steps = append(c.steps, optional...)
	for _, s := range c.steps {
		c.errors[s.Name()] = atomic.NewInt64(0)
	}
	return c
}

// Run applies every step in order. alert_id is never touched regardless of
// what a step returns; this is enforced here rather than trusted to each
// step's implementation.
func (c *Chain) Run(a alert.Alert) alert.Alert {
	id := a.AlertID
	for _, step := range c.steps {
		out, err := step.Apply(a)
		if err != nil {
			c.errors[step.Name()].Inc()
			c.log.Warn("enrichment step failed, skipping", "step", step.Name(), "alert_id", id, "error", err)
			continue
		}
		out.AlertID = id
		a = out
	}
	return a
}

// ErrorCount returns how many times a named step has failed, for stats.
func (c *Chain) ErrorCount(name string) int64 {
	ctr, ok := c.errors[name]
	if !ok {
		return 0
	}
	return ctr.Load()
}
