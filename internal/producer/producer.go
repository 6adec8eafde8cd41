// Package producer defines the contract every alert-producing stub
// implements (spec §4.3) and a small registry of stubs keyed by source,
// generalized from the teacher's executor.Registry (small interface,
// registration-time duplicate check). The supervisor does not use the
// registry; it launches producers as child processes from ProcessSpecs.
package producer

import (
	"context"
	"fmt"
	"sync"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

// Producer is the contract every stub (network-signature, network-anomaly,
// host) implements.
type Producer interface {
	// Kind identifies the producer's alert source.
	Kind() alert.Source

	// Run starts emitting alerts and blocks until ctx is canceled or an
	// unrecoverable error occurs.
	Run(ctx context.Context) error

	// Shutdown drains any pending sends within the context's deadline and
	// releases the producer's publisher socket.
	Shutdown(ctx context.Context) error
}

// Registry holds producer stubs keyed by their alert source.
type Registry struct {
	mu        sync.RWMutex
	producers map[alert.Source]Producer
}

func NewRegistry() *Registry {
	return &Registry{producers: make(map[alert.Source]Producer)}
}

// Register adds a producer to the registry. Returns an error if a producer
// of the same kind is already registered.
func (r *Registry) Register(p Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.producers[p.Kind()]; exists {
		return fmt.Errorf("producer already registered: %s", p.Kind())
	}
	r.producers[p.Kind()] = p
	return nil
}

func (r *Registry) Get(kind alert.Source) (Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[kind]
	return p, ok
}

func (r *Registry) List() []Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Producer, 0, len(r.producers))
	for _, p := range r.producers {
		out = append(out, p)
	}
	return out
}
