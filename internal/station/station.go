// Package station tracks the receiver's own position, either fixed in the
// config or from a GPS (NMEA over serial, or gpsd), so look angles to each
// sonde can be reported.
package station

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"radiosonde-ng/internal/input"
)

// Sources.
const (
	SourceStatic = "static"
	SourceNMEA   = "nmea"
	SourceGPSD   = "gpsd"
)

type Config struct {
	Source string

	// Static position; AltM is the ellipsoid height.
	LatDeg float64
	LonDeg float64
	AltM   float64

	// Device and Baud are used by SourceNMEA. Baud defaults to 9600.
	Device string
	Baud   int

	// GPSDAddr is used by SourceGPSD. Defaults to 127.0.0.1:2947.
	GPSDAddr string
}

type Position struct {
	Source     string  `json:"source"`
	Valid      bool    `json:"valid"`
	LatDeg     float64 `json:"lat_deg"`
	LonDeg     float64 `json:"lon_deg"`
	AltM       float64 `json:"alt_m"`
	Satellites int     `json:"satellites,omitempty"`
	LastFixUTC string  `json:"last_fix_utc,omitempty"`
	LastError  string  `json:"last_error,omitempty"`
}

type Service struct {
	cfg Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last atomic.Value // Position

	mu     sync.Mutex
	closer io.Closer
}

func New(cfg Config) (*Service, error) {
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	if cfg.Source == "" {
		cfg.Source = SourceStatic
	}
	switch cfg.Source {
	case SourceStatic:
		if cfg.LatDeg < -90 || cfg.LatDeg > 90 || cfg.LonDeg < -180 || cfg.LonDeg > 180 {
			return nil, fmt.Errorf("station position out of range")
		}
	case SourceNMEA:
		if strings.TrimSpace(cfg.Device) == "" {
			return nil, fmt.Errorf("station device is required for source nmea")
		}
		if cfg.Baud == 0 {
			cfg.Baud = 9600
		}
	case SourceGPSD:
		if strings.TrimSpace(cfg.GPSDAddr) == "" {
			cfg.GPSDAddr = gpsdDefaultAddr
		}
	default:
		return nil, fmt.Errorf("station source must be one of static, nmea, gpsd (got %q)", cfg.Source)
	}

	s := &Service{cfg: cfg}
	pos := Position{Source: cfg.Source}
	if cfg.Source == SourceStatic {
		pos.Valid = true
		pos.LatDeg, pos.LonDeg, pos.AltM = cfg.LatDeg, cfg.LonDeg, cfg.AltM
	}
	s.last.Store(pos)
	return s, nil
}

// Start begins tracking. Failures are recorded in the position's LastError;
// the station is optional and never stops the decoder.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("station service is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	switch s.cfg.Source {
	case SourceNMEA:
		f, err := input.OpenSerial(s.cfg.Device, s.cfg.Baud)
		if err != nil {
			s.setErrorLocked(fmt.Sprintf("station open failed device=%s baud=%d: %v", s.cfg.Device, s.cfg.Baud, err))
			return err
		}
		log.Printf("station gps enabled device=%s baud=%d", s.cfg.Device, s.cfg.Baud)
		s.startNMEALocked(ctx, f)
	case SourceGPSD:
		s.startGPSDLocked(ctx)
	}
	return nil
}

func (s *Service) startNMEALocked(ctx context.Context, rc io.ReadCloser) {
	s.closer = rc
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = rc.Close() }()

		var st nmeaState
		st.pos.Source = SourceNMEA
		err := s.scanLines(childCtx, rc, 4096, func(now time.Time, line string) (bool, error) {
			// Receivers may interleave binary or non-NMEA chatter.
			if !strings.HasPrefix(line, "$") {
				return false, nil
			}
			sent, err := parseNMEASentence(line)
			if err != nil {
				return false, err
			}
			if !st.apply(now, sent) {
				return false, nil
			}
			s.store(st.pos)
			return true, nil
		})
		if childCtx.Err() == nil {
			s.setError(fmt.Sprintf("station gps read stopped: %v", err))
		}
	}()
}

func (s *Service) startGPSDLocked(ctx context.Context) {
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	addr := s.cfg.GPSDAddr

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		log.Printf("station gps enabled source=gpsd addr=%s", addr)
		var st gpsdState
		st.pos.Source = SourceGPSD
		backoff := 250 * time.Millisecond
		const maxBackoff = 10 * time.Second

		for childCtx.Err() == nil {
			conn, err := dialGPSD(childCtx, addr)
			if err != nil {
				s.setError(fmt.Sprintf("gpsd dial failed addr=%s: %v", addr, err))
				select {
				case <-childCtx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(2*backoff, maxBackoff)
				continue
			}
			backoff = 250 * time.Millisecond

			s.mu.Lock()
			s.closer = conn
			s.mu.Unlock()

			if err := gpsdWatch(conn); err != nil {
				s.setError(fmt.Sprintf("gpsd watch failed: %v", err))
				_ = conn.Close()
				continue
			}
			err = s.scanLines(childCtx, conn, 256*1024, func(now time.Time, line string) (bool, error) {
				updated, err := st.applyLine(now, line)
				if updated {
					s.store(st.pos)
				}
				return updated, err
			})
			_ = conn.Close()
			if childCtx.Err() == nil {
				s.setError(fmt.Sprintf("gpsd read stopped: %v", err))
			}
		}
	}()
}

// scanLines feeds trimmed non-empty lines to apply until r fails or ctx is
// done. Parse errors are recorded and skipped.
func (s *Service) scanLines(ctx context.Context, r io.Reader, maxLine int, apply func(now time.Time, line string) (bool, error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 512), maxLine)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := apply(time.Now().UTC(), line); err != nil {
			s.setError(err.Error())
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel, closer := s.cancel, s.closer
	s.cancel, s.closer = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

func (s *Service) Position() Position {
	if s == nil {
		return Position{}
	}
	return s.last.Load().(Position)
}

// store publishes a new fix, keeping the last recorded error.
func (s *Service) store(p Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.LastError = s.Position().LastError
	s.last.Store(p)
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	cur := s.Position()
	cur.LastError = msg
	// A transient error does not invalidate the last fix.
	s.last.Store(cur)
}
