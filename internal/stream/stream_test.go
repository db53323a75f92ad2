package stream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestStream_PublishRead(t *testing.T) {
	s := New(2)
	ctx := context.Background()
	if err := s.Publish(ctx, []byte{1}); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if err := s.Publish(ctx, []byte{2}); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("len=%d want 2", s.Len())
	}
	for want := byte(1); want <= 2; want++ {
		got, err := s.Read(ctx)
		if err != nil {
			t.Fatalf("Read() error: %v", err)
		}
		if got[0] != want {
			t.Fatalf("got %d want %d", got[0], want)
		}
	}
	if pub, rd := s.Counts(); pub != 2 || rd != 2 {
		t.Fatalf("counts=%d/%d want 2/2", pub, rd)
	}
}

func TestStream_PublishBlocksWhenFull(t *testing.T) {
	s := New(1)
	if err := s.Publish(context.Background(), []byte{1}); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Publish(ctx, []byte{2})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
}

func TestStream_CloseDrainsThenEOF(t *testing.T) {
	s := New(4)
	ctx := context.Background()
	_ = s.Publish(ctx, []byte{9})
	s.Close()
	s.Close()

	if err := s.Publish(ctx, []byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
	got, err := s.Read(ctx)
	if err != nil || got[0] != 9 {
		t.Fatalf("Read()=%v,%v want [9],nil", got, err)
	}
	if _, err := s.Read(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v want EOF", err)
	}
}

func TestStream_CloseUnblocksPublisher(t *testing.T) {
	s := New(1)
	_ = s.Publish(context.Background(), []byte{1})

	errc := make(chan error, 1)
	go func() { errc <- s.Publish(context.Background(), []byte{2}) }()
	time.Sleep(10 * time.Millisecond)
	s.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("err=%v want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("publisher not unblocked by Close")
	}
}
