package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Sleeper waits for d or until ctx is done, returning false in the latter case.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) bool
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Source hands out recorded frames with their relative timing. It satisfies
// the decoder's frame source interface, so a log can stand in for live
// input.
//
// START markers are honored by resetting the origin.
// speed: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
type Source struct {
	records []Record
	speed   float64
	loop    bool
	sleeper Sleeper

	next     int
	origin   time.Duration
	lastAt   time.Duration
	haveLast bool
}

func NewSource(records []Record, speed float64, loop bool, sleeper Sleeper) (*Source, error) {
	if speed <= 0 {
		return nil, fmt.Errorf("speed must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	frames := 0
	for _, r := range records {
		if r.Frame != nil {
			frames++
		}
	}
	if frames == 0 {
		return nil, errors.New("no records")
	}
	return &Source{records: records, speed: speed, loop: loop, sleeper: sleeper}, nil
}

// Read returns the next frame after waiting out the recorded gap. It
// returns io.EOF at the end of a non-looping log and ctx.Err() when ctx is
// done.
func (s *Source) Read(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.next >= len(s.records) {
			if !s.loop {
				return nil, io.EOF
			}
			s.next = 0
			s.origin, s.lastAt, s.haveLast = 0, 0, false
		}

		r := s.records[s.next]
		s.next++
		if r.Frame == nil {
			s.origin = r.At
			s.lastAt = 0
			s.haveLast = false
			continue
		}

		at := r.At - s.origin
		if at < 0 {
			at = 0
		}
		if s.haveLast {
			wait := at - s.lastAt
			if wait < 0 {
				wait = 0
			}
			wait = time.Duration(float64(wait) / s.speed)
			if wait > 0 && !s.sleeper.Sleep(ctx, wait) {
				return nil, ctx.Err()
			}
		}
		s.lastAt = at
		s.haveLast = true
		return r.Frame, nil
	}
}

// Play replays records with their relative timing, calling cb for every frame.
func Play(ctx context.Context, records []Record, speed float64, loop bool, sleeper Sleeper, cb func(frame []byte) error) error {
	if cb == nil {
		return errors.New("callback is nil")
	}
	src, err := NewSource(records, speed, loop, sleeper)
	if err != nil {
		return err
	}
	for {
		frame, err := src.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := cb(frame); err != nil {
			return err
		}
	}
}
