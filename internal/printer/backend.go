package printer

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Backend delivers an encoded raster job to a printer.
type Backend interface {
	Name() string
	Send(ctx context.Context, job []byte) error
}

// DeviceBackend writes jobs to a character device such as /dev/usb/lp0, or
// appends them to a regular file when Create is set.
type DeviceBackend struct {
	Path    string
	Create  bool
	Timeout time.Duration
}

func (d *DeviceBackend) Name() string { return "device:" + d.Path }

func (d *DeviceBackend) Send(ctx context.Context, job []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	flags := os.O_WRONLY
	if d.Create {
		flags |= os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(d.Path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open printer device %s: %w", d.Path, err)
	}
	if d.Timeout > 0 {
		// Not every device supports deadlines; a failure here is harmless.
		_ = f.SetWriteDeadline(time.Now().Add(d.Timeout))
	}
	if _, err := f.Write(job); err != nil {
		f.Close()
		return fmt.Errorf("write printer device %s: %w", d.Path, err)
	}
	return f.Close()
}

// TCPBackend sends jobs to the raw printing port of a network printer.
type TCPBackend struct {
	Addr    string
	Timeout time.Duration
}

func (t *TCPBackend) Name() string { return "tcp:" + t.Addr }

func (t *TCPBackend) Send(ctx context.Context, job []byte) error {
	dialer := net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return fmt.Errorf("dial printer %s: %w", t.Addr, err)
	}
	defer conn.Close()

	deadline := time.Time{}
	if t.Timeout > 0 {
		deadline = time.Now().Add(t.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if !deadline.IsZero() {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(job); err != nil {
		return fmt.Errorf("send to printer %s: %w", t.Addr, err)
	}
	return nil
}

// SpoolBackend writes each job to its own .bin file. Used in test mode and
// for stations that print from another host.
type SpoolBackend struct {
	Dir string
}

func (s *SpoolBackend) Name() string { return "spool:" + s.Dir }

func (s *SpoolBackend) Send(ctx context.Context, job []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.Dir, "job-"+time.Now().UTC().Format("20060102T150405")+"-*.bin")
	if err != nil {
		return err
	}
	if _, err := f.Write(job); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("write spool file: %w", err)
	}
	return f.Close()
}

// SpoolFiles lists the jobs written to dir, oldest name first.
func SpoolFiles(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "job-*.bin"))
}

// NoneBackend discards jobs.
type NoneBackend struct{}

func (NoneBackend) Name() string { return "none" }

func (NoneBackend) Send(ctx context.Context, job []byte) error { return ctx.Err() }
