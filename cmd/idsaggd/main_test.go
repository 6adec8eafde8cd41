package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPidfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idsaggd.pid")
	if err := writePidfile(path); err != nil {
		t.Fatalf("writePidfile: %v", err)
	}

	pid, err := readPidfile(path)
	if err != nil {
		t.Fatalf("readPidfile: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("expected pid %d, got %d", os.Getpid(), pid)
	}
}

func TestReadPidfileMissing(t *testing.T) {
	if _, err := readPidfile(filepath.Join(t.TempDir(), "missing.pid")); err == nil {
		t.Fatal("expected an error reading a nonexistent pidfile")
	}
}
