package input

import (
	"context"
	"io"
	"os/exec"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

// rebinder follows BindFunc calls the way the framer does: a superseded
// source's (0, nil) read moves on to the newest one.
type rebinder struct {
	mu sync.Mutex
	r  io.Reader
}

func (b *rebinder) bind(r io.Reader) {
	b.mu.Lock()
	b.r = r
	b.mu.Unlock()
}

func (b *rebinder) read(t *testing.T, limit int) ([]byte, error) {
	t.Helper()
	var out []byte
	buf := make([]byte, 64)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		r := b.r
		b.mu.Unlock()

		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			return out, err
		}
		if limit > 0 && len(out) >= limit {
			return out, nil
		}
	}
	t.Fatalf("read timed out with %q", out)
	return nil, nil
}

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestCommand_StdoutThenEOF(t *testing.T) {
	sh := requireShell(t)
	// Several runs: the stderr tail must survive however the exit races the
	// stderr reader.
	for run := 0; run < 5; run++ {
		c, err := NewCommand(CommandConfig{
			Command: sh,
			Args:    []string{"-c", "echo warming >&2; printf abc; echo oops >&2; echo done >&2"},
			Packed:  true,
		})
		if err != nil {
			t.Fatalf("NewCommand() error: %v", err)
		}
		var b rebinder
		if err := c.Start(context.Background(), b.bind); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
		got, err := b.read(t, 0)
		if err != io.EOF || string(got) != "abc" {
			t.Fatalf("run %d: read=%q err=%v", run, got, err)
		}
		c.Close()

		snap := c.Snapshot()
		if snap.Starts != 1 || snap.Bytes != 3 || snap.State != "stopped" || snap.Running {
			t.Fatalf("run %d: snapshot=%+v", run, snap)
		}
		want := []string{"warming", "oops", "done"}
		if !reflect.DeepEqual(snap.Stderr, want) || snap.StderrLines != 3 {
			t.Fatalf("run %d: stderr=%q lines=%d", run, snap.Stderr, snap.StderrLines)
		}
		if snap.LastError != "" {
			t.Fatalf("run %d: last error=%q", run, snap.LastError)
		}
	}
}

func TestCommand_RestartsAndRebinds(t *testing.T) {
	sh := requireShell(t)
	c, err := NewCommand(CommandConfig{
		Command:        sh,
		Args:           []string{"-c", "printf x"},
		Restart:        true,
		BackoffInitial: 5 * time.Millisecond,
		BackoffMax:     10 * time.Millisecond,
		Packed:         true,
	})
	if err != nil {
		t.Fatalf("NewCommand() error: %v", err)
	}
	var b rebinder
	if err := c.Start(context.Background(), b.bind); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	got, err := b.read(t, 3)
	if err != nil || string(got) != "xxx" {
		t.Fatalf("read=%q err=%v", got, err)
	}

	c.Close()
	if _, err := b.read(t, 0); err != io.EOF {
		t.Fatalf("after Close err=%v want EOF", err)
	}
	if snap := c.Snapshot(); snap.Starts < 3 {
		t.Fatalf("starts=%d want >= 3", snap.Starts)
	}
}

func TestCommand_UnpacksBits(t *testing.T) {
	sh := requireShell(t)
	c, err := NewCommand(CommandConfig{
		Command: sh,
		Args:    []string{"-c", `printf '\001\000\001\001\000\000\000\001'`},
	})
	if err != nil {
		t.Fatalf("NewCommand() error: %v", err)
	}
	defer c.Close()
	var b rebinder
	if err := c.Start(context.Background(), b.bind); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	got, err := b.read(t, 0)
	if err != io.EOF || len(got) != 1 || got[0] != 0xB1 {
		t.Fatalf("read=% x err=%v", got, err)
	}
}

func TestCommand_StartFailure(t *testing.T) {
	if _, err := NewCommand(CommandConfig{Command: "  "}); err == nil {
		t.Fatalf("expected error for empty command")
	}

	c, err := NewCommand(CommandConfig{Command: "/nonexistent/demodulator"})
	if err != nil {
		t.Fatalf("NewCommand() error: %v", err)
	}
	var b rebinder
	if err := c.Start(context.Background(), b.bind); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := c.Start(context.Background(), b.bind); err == nil {
		t.Fatalf("expected error on second Start")
	}
	if _, err := b.read(t, 0); err != io.EOF {
		t.Fatalf("err=%v want EOF", err)
	}
	c.Close()
	if snap := c.Snapshot(); !strings.Contains(snap.LastError, "start") || snap.Starts != 0 {
		t.Fatalf("snapshot=%+v", snap)
	}
}
