package input

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func TestLineRing_KeepsNewest(t *testing.T) {
	r := newLineRing(3, 0)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		r.push(l)
	}
	if got := r.lines(); !reflect.DeepEqual(got, []string{"c", "d", "e"}) {
		t.Fatalf("lines=%q", got)
	}
	if r.count() != 5 {
		t.Fatalf("count=%d want 5", r.count())
	}
}

func TestLineRing_ZeroSizeOnlyCounts(t *testing.T) {
	r := newLineRing(0, 0)
	r.push("x")
	if got := r.lines(); got != nil || r.count() != 1 {
		t.Fatalf("lines=%q count=%d", got, r.count())
	}
}

func TestLineRing_ConsumeCutsLongLinesAndContinues(t *testing.T) {
	r := newLineRing(10, 8)
	long := strings.Repeat("x", 10000)
	in := "first\r\n" + long + "\n\nlast without newline"
	if err := r.consume(strings.NewReader(in)); err != nil {
		t.Fatalf("consume() error: %v", err)
	}
	want := []string{"first", "xxxxxxxx", "", "last wit"}
	if got := r.lines(); !reflect.DeepEqual(got, want) {
		t.Fatalf("lines=%q want %q", got, want)
	}
}

type failingReader struct {
	data string
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.data == "" {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestLineRing_ConsumeReturnsReadError(t *testing.T) {
	boom := errors.New("pipe broke")
	r := newLineRing(4, 0)
	err := r.consume(&failingReader{data: "one\ntwo", err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
	if got := r.lines(); !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Fatalf("lines=%q", got)
	}
	if err := newLineRing(1, 0).consume(io.LimitReader(strings.NewReader(""), 0)); err != nil {
		t.Fatalf("empty input: %v", err)
	}
}
