package ptu

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriter_HeaderAndLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ptu.csv")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Header is on disk before any point is written.
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(b) != Header+"\n" {
		t.Fatalf("unexpected header: %q", string(b))
	}

	if err := w.AddPoint(1700000000, -12.34, 55.54, -20, 850.26, 1523.4, 12.06, 271.96); err != nil {
		t.Fatalf("AddPoint() error: %v", err)
	}

	// Flushed per line, without Close.
	b, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), string(b))
	}
	if lines[1] != "1700000000,-12.3,55.5,-20.0,850.3,1523.4,12.1,272.0" {
		t.Fatalf("unexpected line: %q", lines[1])
	}
	if n := strings.Count(lines[1], ","); n != strings.Count(Header, ",") {
		t.Fatalf("field count mismatch: %d commas", n)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if err := w.AddPoint(1, 0, 0, 0, 0, 0, 0, 0); err == nil {
		t.Fatalf("expected error after Close")
	}
}

func TestCreate_RequiresPath(t *testing.T) {
	if _, err := Create(""); err == nil {
		t.Fatalf("expected error")
	}
}
