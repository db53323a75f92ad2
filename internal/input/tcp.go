package input

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type TCPClientConfig struct {
	Addr string

	ReconnectDelay time.Duration

	// DialTimeout is used for each connect attempt.
	DialTimeout time.Duration

	// Packed is false when the peer sends one bit per byte.
	Packed bool
}

// BindFunc attaches a new byte source to the consumer, typically
// (*framer.Framer).SetInput.
type BindFunc func(r io.Reader)

// TCPClient dials a bitstream server and keeps reconnecting. Every
// connection is bound as a fresh source so no bits from a dropped
// connection are combined with bits from the next one.
type TCPClient struct {
	cfg TCPClientConfig

	started atomic.Bool
	closed  atomic.Bool

	mu       sync.RWMutex
	state    string
	lastErr  string
	lastSeen time.Time

	connects atomic.Uint64
	bytes    atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

type TCPSnapshot struct {
	Addr        string `json:"addr"`
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
	Connects    uint64 `json:"connects"`
	Bytes       uint64 `json:"bytes"`
}

func NewTCPClient(cfg TCPClientConfig) (*TCPClient, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("tcp client addr is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 1 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	return &TCPClient{cfg: cfg, state: "stopped", done: make(chan struct{})}, nil
}

// Start binds a placeholder source that blocks until the first connection,
// then runs the connect loop in the background. A consumer blocked on a
// superseded source gets (0, nil) once the next source is bound, and io.EOF
// after the client stops.
func (c *TCPClient) Start(ctx context.Context, bind BindFunc) error {
	if c == nil {
		return fmt.Errorf("tcp client is nil")
	}
	if c.closed.Load() {
		return fmt.Errorf("tcp client is closed")
	}
	if bind == nil {
		return fmt.Errorf("tcp client bind is nil")
	}
	if c.started.Swap(true) {
		return fmt.Errorf("tcp client already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setState("connecting", "")

	idle := newConnSource(nil)
	bind(idle)

	go func() {
		defer close(c.done)
		c.runLoop(runCtx, bind, idle)
	}()
	return nil
}

// Close stops the connect loop and waits for it to exit.
func (c *TCPClient) Close() {
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

func (c *TCPClient) Snapshot() TCPSnapshot {
	if c == nil {
		return TCPSnapshot{}
	}
	c.mu.RLock()
	state, lastErr, lastSeen := c.state, c.lastErr, c.lastSeen
	c.mu.RUnlock()

	out := TCPSnapshot{
		Addr:      c.cfg.Addr,
		State:     state,
		LastError: lastErr,
		Connects:  c.connects.Load(),
		Bytes:     c.bytes.Load(),
	}
	if !lastSeen.IsZero() {
		out.LastSeenUTC = lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (c *TCPClient) runLoop(ctx context.Context, bind BindFunc, cur *connSource) {
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	defer func() {
		cur.release(io.EOF)
		c.setState("stopped", "")
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		c.setState("connecting", "")
		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
		if err != nil {
			c.setState("error", err.Error())
			if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		c.connects.Add(1)
		c.setState("connected", "")
		var r io.Reader = &countingReader{r: conn, c: c}
		if !c.cfg.Packed {
			r = NewBitPacker(r)
		}
		next := newConnSource(r)
		bind(next)
		cur.release(nil)
		cur = next

		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-cur.dead:
		}
		_ = conn.Close()
		c.setState("disconnected", cur.errString())

		if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
			return
		}
	}
}

func (c *TCPClient) setState(state string, lastErr string) {
	c.mu.Lock()
	c.state = state
	if lastErr != "" {
		c.lastErr = lastErr
	} else if state == "connected" || state == "connecting" || state == "stopped" {
		c.lastErr = ""
	}
	c.mu.Unlock()
}

type countingReader struct {
	r io.Reader
	c *TCPClient
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.c.bytes.Add(uint64(n))
		cr.c.mu.Lock()
		cr.c.lastSeen = time.Now()
		cr.c.mu.Unlock()
	}
	return n, err
}

// connSource is the reader bound for one connection. When the connection
// fails it reports through dead and holds the consumer until it is
// released, so the failure never reaches the consumer as an error.
type connSource struct {
	r io.Reader

	dead    chan struct{}
	once    sync.Once
	readErr error

	released chan struct{}
	relOnce  sync.Once
	final    error
}

func newConnSource(r io.Reader) *connSource {
	return &connSource{
		r:        r,
		dead:     make(chan struct{}),
		released: make(chan struct{}),
	}
}

func (s *connSource) Read(p []byte) (int, error) {
	if s.r == nil {
		<-s.released
		return 0, s.final
	}
	n, err := s.r.Read(p)
	if err == nil {
		return n, nil
	}
	s.once.Do(func() {
		s.readErr = err
		close(s.dead)
	})
	<-s.released
	return 0, s.final
}

// release unblocks the consumer; err is what its pending Read returns.
func (s *connSource) release(err error) {
	s.relOnce.Do(func() {
		s.final = err
		close(s.released)
	})
}

func (s *connSource) errString() string {
	if s.readErr == nil || s.readErr == io.EOF {
		return ""
	}
	return s.readErr.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
