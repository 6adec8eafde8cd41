// Package sink implements the terminal outputs of spec §4.9: console,
// append-only JSON-lines file, and a downstream publisher re-emitting the
// canonical alert for external subscribers. Every sink shares one contract
// so the Alert Manager's worker pool can dispatch to all enabled sinks
// uniformly.
package sink

import "github.com/idsaggd/idsaggd/pkg/alert"

// Sink is the common delivery contract of spec §4.9.
type Sink interface {
	Name() string
	Deliver(a alert.Alert) error
	Close() error
}
