package input

import (
	"fmt"
	"io"
	"os"
)

// Open returns the byte stream for a file, stdin or serial source. When
// packed is false the stream is wrapped in a BitPacker.
func Open(source, path string, baud int, stdin io.Reader, packed bool) (io.ReadCloser, error) {
	var rc io.ReadCloser
	switch source {
	case "file":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		rc = f
	case "stdin":
		if stdin == nil {
			stdin = os.Stdin
		}
		rc = io.NopCloser(stdin)
	case "serial":
		f, err := OpenSerial(path, baud)
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", path, err)
		}
		rc = f
	default:
		return nil, fmt.Errorf("input source %q is not a stream source", source)
	}
	if packed {
		return rc, nil
	}
	return struct {
		io.Reader
		io.Closer
	}{NewBitPacker(rc), rc}, nil
}
