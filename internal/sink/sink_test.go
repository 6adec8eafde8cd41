package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConsoleWritesOneLinePerAlert(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	if err := c.Deliver(alert.Alert{Timestamp: time.Now(), Source: alert.SourceHIDSLog, Title: "Auth Failure", Severity: alert.SeverityMedium}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := bufio.NewScanner(&buf)
	count := 0
	for lines.Scan() {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one line, got %d", count)
	}
}

func TestFileSinkFlushesAtCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "unified_alerts.jsonl")

	cfg := FileConfig{Path: path, FlushEveryN: 3, FlushInterval: time.Hour}
	f, err := NewFile(cfg, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	for i := 0; i < 3; i++ {
		if err := f.Deliver(alert.Alert{AlertID: "x", Source: alert.SourceHIDSLog, Title: "t"}); err != nil {
			t.Fatalf("deliver: %v", err)
		}
	}

	time.Sleep(20 * time.Millisecond)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading sink file: %v", err)
	}
	lines := bytes.Count(data, []byte("\n"))
	if lines != 3 {
		t.Fatalf("expected 3 flushed lines, got %d", lines)
	}

	var decoded map[string]any
	firstLine := bytes.SplitN(data, []byte("\n"), 2)[0]
	if err := json.Unmarshal(firstLine, &decoded); err != nil {
		t.Fatalf("expected valid JSON line, got error: %v", err)
	}
}
