package ptu

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Header is the first line of every telemetry CSV file.
const Header = "Epoch,Temperature,Relative humidity,Dew point,Pressure,Latitude,Longitude,Altitude"

// Writer appends telemetry points to a CSV file. Every line is flushed to
// the file as soon as it is written.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	closed bool
}

func Create(path string) (*Writer, error) {
	if path == "" {
		return nil, errors.New("ptu csv path is required")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(f)
	if _, err := bw.WriteString(Header + "\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw}, nil
}

// AddPoint writes one line. Values are written in argument order, which is
// not the column order of Header.
func (pw *Writer) AddPoint(epoch int64, temp, rh, dewpt, pressure, alt, spd, hdg float64) error {
	if pw == nil {
		return errors.New("ptu writer is nil")
	}
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.closed {
		return errors.New("ptu writer is closed")
	}
	if _, err := fmt.Fprintf(pw.w, "%d,%.1f,%.1f,%.1f,%.1f,%.1f,%.1f,%.1f\n", epoch, temp, rh, dewpt, pressure, alt, spd, hdg); err != nil {
		return err
	}
	return pw.w.Flush()
}

func (pw *Writer) Close() error {
	if pw == nil {
		return nil
	}
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.closed {
		return nil
	}
	pw.closed = true
	if err := pw.w.Flush(); err != nil {
		_ = pw.f.Close()
		return err
	}
	return pw.f.Close()
}
