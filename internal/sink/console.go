package sink

import (
	"fmt"
	"io"
	"sync"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

// severityHint is a short color-ish tag; actual ANSI color is left to the
// terminal since the teacher's own CLI output avoids raw escape codes in
// favor of plain structured fields.
func severityHint(s alert.Severity) string {
	switch s {
	case alert.SeverityCritical:
		return "CRIT"
	case alert.SeverityHigh:
		return "HIGH"
	case alert.SeverityMedium:
		return "MED "
	case alert.SeverityLow:
		return "LOW "
	default:
		return "INFO"
	}
}

// Console writes one line per alert straight to its io.Writer; on a write
// error the alert is counted and dropped, never retried (§4.9).
type Console struct {
	mu  sync.Mutex
	w   io.Writer
	err int64
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Deliver(a alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	actor := a.SrcIP()
	if actor == "" {
		actor = a.Hostname()
	}
	_, err := fmt.Fprintf(c.w, "[%s] %-4s %-18s %-30s actor=%s\n",
		a.Timestamp.Format("15:04:05.000"), severityHint(a.Severity), a.Source, a.Title, actor)
	if err != nil {
		c.err++
		return err
	}
	return nil
}

func (c *Console) Close() error { return nil }
