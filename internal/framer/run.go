package framer

import (
	"context"
	"errors"
	"io"
)

// Run calls Step until the context is done or the source fails. A blocking
// Read is not interrupted by ctx; callers stop a live source by closing it or
// rebinding the input. Run returns nil on io.EOF and on context cancellation.
func (f *Framer) Run(ctx context.Context, emit EmitFunc) error {
	if f == nil {
		return errors.New("framer is nil")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := f.Step(emit); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
