package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type CommandConfig struct {
	Command string
	Args    []string
	Env     map[string]string

	// Restart reruns the command after it exits. Without it the end of the
	// command's output is the end of the input.
	Restart bool

	BackoffInitial time.Duration
	BackoffMax     time.Duration

	StderrTailLines int
	MaxLineBytes    int

	// Packed is false when the command writes one bit per byte.
	Packed bool
}

// Command supervises a demodulator process (for example an SDR pipeline
// writing sliced bits to stdout). Each run's stdout is bound as a fresh
// source, like a TCP reconnect; stderr is kept as a tail for status.
type Command struct {
	cfg CommandConfig

	started atomic.Bool
	closed  atomic.Bool

	mu      sync.RWMutex
	pid     int
	state   string
	lastErr string

	starts atomic.Uint64
	bytes  atomic.Uint64
	stderr *lineRing

	cancel context.CancelFunc
	done   chan struct{}
}

type CommandSnapshot struct {
	Command     string   `json:"command"`
	Running     bool     `json:"running"`
	PID         int      `json:"pid,omitempty"`
	State       string   `json:"state"`
	LastError   string   `json:"last_error,omitempty"`
	Starts      uint64   `json:"starts"`
	Bytes       uint64   `json:"bytes"`
	Stderr      []string `json:"stderr_tail,omitempty"`
	StderrLines uint64   `json:"stderr_lines"`
}

func NewCommand(cfg CommandConfig) (*Command, error) {
	cfg.Command = strings.TrimSpace(cfg.Command)
	if cfg.Command == "" {
		return nil, fmt.Errorf("input command is required")
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Second
	}
	if cfg.StderrTailLines <= 0 {
		cfg.StderrTailLines = 50
	}
	return &Command{
		cfg:    cfg,
		state:  "stopped",
		stderr: newLineRing(cfg.StderrTailLines, cfg.MaxLineBytes),
		done:   make(chan struct{}),
	}, nil
}

// Start binds a placeholder source and runs the command in the background.
// The bound source returns io.EOF once the command ends for good.
func (c *Command) Start(ctx context.Context, bind BindFunc) error {
	if c == nil {
		return fmt.Errorf("input command is nil")
	}
	if c.closed.Load() {
		return fmt.Errorf("input command is closed")
	}
	if bind == nil {
		return fmt.Errorf("input command bind is nil")
	}
	if c.started.Swap(true) {
		return fmt.Errorf("input command already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setState("starting", "")

	idle := newConnSource(nil)
	bind(idle)

	go func() {
		defer close(c.done)
		c.runLoop(runCtx, bind, idle)
	}()
	return nil
}

// Close kills the command and waits for the supervisor to exit.
func (c *Command) Close() {
	if c == nil {
		return
	}
	if c.closed.Swap(true) {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.started.Load() {
		<-c.done
	}
}

func (c *Command) Snapshot() CommandSnapshot {
	if c == nil {
		return CommandSnapshot{}
	}
	c.mu.RLock()
	pid, state, lastErr := c.pid, c.state, c.lastErr
	c.mu.RUnlock()

	return CommandSnapshot{
		Command:     c.cfg.Command,
		Running:     pid != 0 && state == "running",
		PID:         pid,
		State:       state,
		LastError:   lastErr,
		Starts:      c.starts.Load(),
		Bytes:       c.bytes.Load(),
		Stderr:      c.stderr.lines(),
		StderrLines: c.stderr.count(),
	}
}

func (c *Command) runLoop(ctx context.Context, bind BindFunc, cur *connSource) {
	defer func() {
		cur.release(io.EOF)
		c.setState("stopped", "")
	}()

	backoff := c.cfg.BackoffInitial
	for {
		if ctx.Err() != nil {
			return
		}

		next, err := c.runOnce(ctx, bind, cur)
		if next != nil {
			cur = next
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.setState("exited", err.Error())
		} else {
			c.setState("exited", "")
		}

		if !c.cfg.Restart {
			return
		}
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff *= 2
		if backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
		c.setState("restarting", "")
	}
}

// runOnce starts the command, binds its stdout and waits until the consumer
// has drained it and the process has exited. It returns the source it
// bound, if any.
func (c *Command) runOnce(ctx context.Context, bind BindFunc, cur *connSource) (*connSource, error) {
	cmd := exec.CommandContext(ctx, c.cfg.Command, c.cfg.Args...)
	if len(c.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), envMapToList(c.cfg.Env)...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	c.starts.Add(1)
	c.mu.Lock()
	c.pid = cmd.Process.Pid
	c.state = "running"
	c.lastErr = ""
	c.mu.Unlock()

	var (
		wg        sync.WaitGroup
		stderrErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		stderrErr = c.stderr.consume(stderr)
	}()

	var r io.Reader = &commandReader{r: stdout, c: c}
	if !c.cfg.Packed {
		r = NewBitPacker(r)
	}
	next := newConnSource(r)
	bind(next)
	cur.release(nil)

	select {
	case <-ctx.Done():
	case <-next.dead:
	}

	// Wait closes the pipes, so stderr must be drained first.
	wg.Wait()
	waitErr := cmd.Wait()

	c.mu.Lock()
	c.pid = 0
	if stderrErr != nil {
		c.lastErr = "stderr: " + stderrErr.Error()
	}
	c.mu.Unlock()

	if waitErr == nil || errors.Is(waitErr, context.Canceled) {
		return next, nil
	}
	return next, waitErr
}

func (c *Command) setState(state string, lastErr string) {
	c.mu.Lock()
	c.state = state
	if strings.TrimSpace(lastErr) != "" {
		c.lastErr = lastErr
	}
	c.mu.Unlock()
}

type commandReader struct {
	r io.Reader
	c *Command
}

func (cr *commandReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.c.bytes.Add(uint64(n))
	}
	return n, err
}

func envMapToList(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	return out
}
