package input

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
)

// lineRing keeps the most recent lines of a demodulator's stderr in a fixed
// ring. Lines longer than maxLine are cut.
type lineRing struct {
	mu      sync.Mutex
	buf     []string
	next    int
	n       int
	total   uint64
	maxLine int
}

func newLineRing(size, maxLine int) *lineRing {
	if size < 0 {
		size = 0
	}
	if maxLine <= 0 {
		maxLine = 16 * 1024
	}
	return &lineRing{buf: make([]string, size), maxLine: maxLine}
}

func (r *lineRing) push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if len(r.buf) == 0 {
		return
	}
	if len(line) > r.maxLine {
		line = line[:r.maxLine]
	}
	r.buf[r.next] = line
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

// lines returns the retained lines, oldest first.
func (r *lineRing) lines() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return nil
	}
	out := make([]string, 0, r.n)
	start := (r.next - r.n + len(r.buf)) % len(r.buf)
	for i := 0; i < r.n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// count is the number of lines seen, including those no longer retained.
func (r *lineRing) count() uint64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// consume reads lines from rd until EOF. An over-long line is cut at maxLine
// and the remainder up to its newline is skipped, so one runaway line does
// not end the tail. A trailing line without a newline is kept.
func (r *lineRing) consume(rd io.Reader) error {
	br := bufio.NewReaderSize(rd, 4096)
	var line []byte
	cut := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !cut {
			line = append(line, chunk...)
			if len(line) > r.maxLine {
				line, cut = line[:r.maxLine], true
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err == nil || len(line) > 0 {
			r.push(strings.TrimRight(string(line), "\r\n"))
		}
		line, cut = line[:0], false
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}
