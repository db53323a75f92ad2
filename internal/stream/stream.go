// Package stream provides the bounded, blocking frame buffer that connects
// pipeline stages. Publish blocks while the buffer is full so a slow consumer
// applies backpressure to its producer.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("stream closed")

type Stream struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once

	published atomic.Uint64
	read      atomic.Uint64
}

func New(capacity int) *Stream {
	if capacity <= 0 {
		capacity = 1
	}
	return &Stream{ch: make(chan []byte, capacity), done: make(chan struct{})}
}

// Publish enqueues frame, blocking while the buffer is full.
func (s *Stream) Publish(ctx context.Context, frame []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.ch <- frame:
		s.published.Add(1)
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishFunc adapts Publish to a producer callback bound to ctx.
func (s *Stream) PublishFunc(ctx context.Context) func(frame []byte) error {
	return func(frame []byte) error { return s.Publish(ctx, frame) }
}

// Read blocks until a frame is available. After Close, buffered frames are
// still delivered and io.EOF is returned once the buffer is empty.
func (s *Stream) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-s.ch:
		s.read.Add(1)
		return frame, nil
	case <-s.done:
		select {
		case frame := <-s.ch:
			s.read.Add(1)
			return frame, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops further publishing. It is safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() { close(s.done) })
}

// Len reports the number of buffered frames.
func (s *Stream) Len() int { return len(s.ch) }

// Cap reports the buffer capacity.
func (s *Stream) Cap() int { return cap(s.ch) }

// Counts returns the number of frames published and read so far.
func (s *Stream) Counts() (published, read uint64) {
	return s.published.Load(), s.read.Load()
}
