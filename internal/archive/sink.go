package archive

import (
	"context"
	"time"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

// Sink adapts the buffer+flusher pair to internal/sink.Sink, so the
// archive can be registered alongside console/file/publisher sinks
// without the manager knowing it is durable.
type Sink struct {
	buf     *Buffer
	flusher *Flusher
}

func NewSink(buf *Buffer, flusher *Flusher) *Sink {
	flusher.Start()
	return &Sink{buf: buf, flusher: flusher}
}

func (s *Sink) Name() string { return "archive" }

func (s *Sink) Deliver(a alert.Alert) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.buf.Push(ctx, a)
}

func (s *Sink) Close() error {
	s.flusher.Stop()
	return nil
}
