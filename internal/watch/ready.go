package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrNotReady is returned when a file cannot be read, or keeps growing, for
// the whole ready timeout.
var ErrNotReady = errors.New("file not ready")

// ReadyInterval is the pause between readiness probes.
var ReadyInterval = 250 * time.Millisecond

// WaitReady blocks until path can be opened and read and its size is the
// same on two consecutive probes.
func WaitReady(ctx context.Context, path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	lastSize := int64(-1)

	for {
		size, err := probe(path)
		if err == nil && size > 0 && size == lastSize {
			return nil
		}
		if err == nil {
			lastSize = size
		} else {
			lastSize = -1
		}

		if time.Now().Add(ReadyInterval).After(deadline) {
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrNotReady, path, err)
			}
			return fmt.Errorf("%w: %s", ErrNotReady, path)
		}

		t := time.NewTimer(ReadyInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func probe(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var b [1]byte
	if _, err := f.Read(b[:]); err != nil && err != io.EOF {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
