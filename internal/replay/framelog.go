package replay

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<hex>
//   where t_ns is nanoseconds since START (monotonic), and hex is one aligned
//   frame exactly as the framer emitted it (sync word first, still scrambled).
//
// Paths ending in ".gz" are gzip-compressed on write and read.

type Record struct {
	At    time.Duration
	Frame []byte
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{At: 0, Frame: nil})
			continue
		}

		rec, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// ReadFile reads every record of the log at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if !isGzip(path) {
		return NewReader(f).ReadAll()
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer zr.Close()
	return NewReader(zr).ReadAll()
}

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

func parseLine(line string) (Record, error) {
	tsStr, hexStr, ok := strings.Cut(line, ",")
	if !ok {
		return Record{}, fmt.Errorf("invalid replay line (missing comma): %q", line)
	}
	tsStr = strings.TrimSpace(tsStr)
	hexStr = strings.TrimSpace(hexStr)
	if tsStr == "" || hexStr == "" {
		return Record{}, fmt.Errorf("invalid replay line (empty field): %q", line)
	}

	tsNs, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid replay timestamp %q: %w", tsStr, err)
	}
	if tsNs < 0 {
		return Record{}, fmt.Errorf("invalid replay timestamp (negative): %d", tsNs)
	}

	b, err := hex.DecodeString(strings.ReplaceAll(hexStr, " ", ""))
	if err != nil {
		return Record{}, fmt.Errorf("invalid replay hex payload: %w", err)
	}
	if len(b) == 0 {
		return Record{}, fmt.Errorf("invalid replay payload (empty)")
	}
	return Record{At: time.Duration(tsNs), Frame: b}, nil
}

// Writer records frames. It is safe for use from multiple goroutines.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	gz     *gzip.Writer
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	ww := &Writer{f: f, start: time.Now()}
	var dst io.Writer = f
	if isGzip(path) {
		ww.gz = gzip.NewWriter(f)
		dst = ww.gz
	}
	ww.w = bufio.NewWriterSize(dst, 64*1024)
	if _, err := ww.w.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return ww, nil
}

func (ww *Writer) WriteFrame(now time.Time, frame []byte) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	if frame == nil {
		return errors.New("frame is nil")
	}

	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(ww.w, "%d,%s\n", d.Nanoseconds(), hex.EncodeToString(frame))
	return err
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	err := ww.w.Flush()
	if ww.gz != nil {
		// Writes the gzip trailer; a truncated member fails to read back.
		err = errors.Join(err, ww.gz.Close())
	}
	return errors.Join(err, ww.f.Close())
}
