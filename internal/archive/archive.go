// Package archive moves processed documents out of the input folder and
// purges old archived files.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Archive is a folder of processed source documents.
type Archive struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

func New(dir string, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{dir: dir, now: time.Now, logger: logger}
}

// Move places src in the archive folder and returns the new path. An
// existing file of the same name is kept; the moved file gets a timestamp
// suffix instead. The archived file's modification time is set to the time
// of the move, which is what retention is measured from.
func (a *Archive) Move(src string) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	now := a.now()
	dst := filepath.Join(a.dir, filepath.Base(src))
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(dst)
		stem := strings.TrimSuffix(filepath.Base(dst), ext)
		dst = filepath.Join(a.dir, fmt.Sprintf("%s_%s%s", stem, now.Format("20060102-150405.000"), ext))
	}

	if err := os.Rename(src, dst); err != nil {
		if !isCrossDevice(err) {
			return "", fmt.Errorf("archive %s: %w", src, err)
		}
		if err := copyFile(src, dst); err != nil {
			return "", fmt.Errorf("archive %s: %w", src, err)
		}
		if err := os.Remove(src); err != nil {
			return "", fmt.Errorf("remove archived source %s: %w", src, err)
		}
	}
	if err := os.Chtimes(dst, now, now); err != nil {
		a.logger.Warn("could not stamp archived document; retention counts from its original date",
			zap.String("archive", dst), zap.Error(err))
	}
	a.logger.Debug("document archived", zap.String("source", src), zap.String("archive", dst))
	return dst, nil
}

// Expired lists regular files in the archive folder archived more than
// retention before now.
func (a *Archive) Expired(now time.Time, retention time.Duration) ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	cutoff := now.Add(-retention)
	var expired []string
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if info.ModTime().Before(cutoff) {
			expired = append(expired, filepath.Join(a.dir, e.Name()))
		}
	}
	return expired, errors.Join(errs...)
}

// Purge deletes the files Expired reports and returns the removed paths.
func (a *Archive) Purge(now time.Time, retention time.Duration) ([]string, error) {
	expired, err := a.Expired(now, retention)
	var removed []string
	errs := []error{err}
	for _, path := range expired {
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	if len(removed) > 0 {
		a.logger.Info("archive purged", zap.Int("removed", len(removed)), zap.Duration("retention", retention))
	}
	return removed, errors.Join(errs...)
}

func isCrossDevice(err error) bool {
	var le *os.LinkError
	return errors.As(err, &le) && errors.Is(le.Err, syscall.EXDEV)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
