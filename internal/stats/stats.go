// Package stats groups the Alert Manager's running counters into atomics,
// per the design note of spec §9 ("counters are atomics grouped in one
// struct") and the §4.7 statistics contract.
package stats

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

// Counters holds every running counter named in spec §4.7 and §8's
// invariant `received = enqueued + suppressed + malformed + dropped_in`.
type Counters struct {
	Received   atomic.Int64
	Malformed  atomic.Int64
	Suppressed atomic.Int64
	Enqueued   atomic.Int64
	DroppedIn  atomic.Int64
	Dispatched atomic.Int64

	DroppedOut      atomic.Int64
	DroppedShutdown atomic.Int64

	CorrelatorFirings atomic.Int64
	RestartCount      atomic.Int64

	mu            sync.Mutex
	perSource     map[alert.Source]int64
	perSeverity   map[alert.Severity]int64
}

func New() *Counters {
	return &Counters{
		perSource:   make(map[alert.Source]int64),
		perSeverity: make(map[alert.Severity]int64),
	}
}

// ObserveAlert advances per-source and per-severity totals. Guarded by a
// brief lock, as spec §5's "Stats counters" policy requires for a coherent
// map snapshot — the scalar atomics above need no such lock individually.
func (c *Counters) ObserveAlert(a alert.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perSource[a.Source]++
	c.perSeverity[a.Severity]++
}

// Snapshot is a coherent point-in-time read of every counter.
type Snapshot struct {
	Received          int64                    `json:"received"`
	Malformed         int64                    `json:"malformed"`
	Suppressed        int64                    `json:"suppressed"`
	Enqueued          int64                    `json:"enqueued"`
	DroppedIn         int64                    `json:"dropped_in"`
	Dispatched        int64                    `json:"dispatched"`
	DroppedOut        int64                    `json:"dropped_out"`
	DroppedShutdown   int64                    `json:"dropped_shutdown"`
	CorrelatorFirings int64                    `json:"correlator_firings"`
	RestartCount      int64                    `json:"restart_count"`
	PerSource         map[alert.Source]int64   `json:"per_source"`
	PerSeverity       map[alert.Severity]int64 `json:"per_severity"`
}

// Snapshot takes a coherent reading of all counters: the per-source/
// per-severity maps are copied under the same brief lock ObserveAlert uses,
// so the snapshot cannot observe a torn map update, and the scalar atomics
// are loaded after the copy.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	perSource := make(map[alert.Source]int64, len(c.perSource))
	for k, v := range c.perSource {
		perSource[k] = v
	}
	perSeverity := make(map[alert.Severity]int64, len(c.perSeverity))
	for k, v := range c.perSeverity {
		perSeverity[k] = v
	}

	return Snapshot{
		Received:          c.Received.Load(),
		Malformed:         c.Malformed.Load(),
		Suppressed:        c.Suppressed.Load(),
		Enqueued:          c.Enqueued.Load(),
		DroppedIn:         c.DroppedIn.Load(),
		Dispatched:        c.Dispatched.Load(),
		DroppedOut:        c.DroppedOut.Load(),
		DroppedShutdown:   c.DroppedShutdown.Load(),
		CorrelatorFirings: c.CorrelatorFirings.Load(),
		RestartCount:      c.RestartCount.Load(),
		PerSource:         perSource,
		PerSeverity:       perSeverity,
	}
}
