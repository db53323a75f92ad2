//go:build !linux

package input

import (
	"fmt"
	"os"
)

func OpenSerial(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("serial input not supported on this platform")
}
