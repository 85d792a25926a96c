package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func startWatcher(t *testing.T, dir string) (*Watcher, context.CancelFunc, <-chan error) {
	t.Helper()
	w, err := New(Options{
		Dir:          dir,
		PollInterval: 50 * time.Millisecond,
		Debounce:     40 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return w, cancel, done
}

func stopWatcher(t *testing.T, w *Watcher, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
	for range w.Paths() {
	}
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("no path delivered")
		return ""
	}
}

func TestWatcherDeliversExistingAndNewFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	existing := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(existing, []byte("%PDF"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.pdf"), []byte("x"), 0o644))

	w, cancel, done := startWatcher(t, dir)

	assert.Equal(t, existing, receive(t, w.Paths()))

	added := filepath.Join(dir, "b.PDF")
	require.NoError(t, os.WriteFile(added, []byte("%PDF"), 0o644))
	assert.Equal(t, added, receive(t, w.Paths()))

	select {
	case p := <-w.Paths():
		t.Fatalf("unexpected extra delivery %s", p)
	case <-time.After(200 * time.Millisecond):
	}

	stopWatcher(t, w, cancel, done)
}

func TestWatcherRedeliversAfterDone(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))

	w, cancel, done := startWatcher(t, dir)
	assert.Equal(t, path, receive(t, w.Paths()))

	// Still in flight: polling must not deliver it again.
	select {
	case p := <-w.Paths():
		t.Fatalf("in-flight path delivered again: %s", p)
	case <-time.After(200 * time.Millisecond):
	}

	w.Done(path)
	assert.Equal(t, path, receive(t, w.Paths()))

	stopWatcher(t, w, cancel, done)
}

func TestMatches(t *testing.T) {
	w := &Watcher{opts: Options{Extensions: []string{".pdf", ".xlsx"}}}
	cases := map[string]bool{
		"/in/240815.pdf":    true,
		"/in/240815.PDF":    true,
		"/in/export.xlsx":   true,
		"/in/~$export.xlsx": false,
		"/in/.240815.pdf":   false,
		"/in/notes.txt":     false,
	}
	for path, want := range cases {
		assert.Equal(t, want, w.matches(path), path)
	}
}

func TestSettledHonorsDebounce(t *testing.T) {
	w := &Watcher{
		opts:     Options{Debounce: time.Second, Extensions: []string{".pdf"}},
		pending:  make(map[string]time.Time),
		inflight: make(map[string]struct{}),
	}
	now := time.Now()
	w.touch("/in/b.pdf", now.Add(-2*time.Second))
	w.touch("/in/a.pdf", now.Add(-3*time.Second))
	w.touch("/in/c.pdf", now)

	assert.Equal(t, []string{"/in/a.pdf", "/in/b.pdf"}, w.settled(now))
	assert.Empty(t, w.settled(now))

	w.touch("/in/a.pdf", now)
	assert.Empty(t, w.settled(now.Add(time.Hour)), "in-flight path must be ignored")
}

func TestWaitReady(t *testing.T) {
	old := ReadyInterval
	ReadyInterval = 10 * time.Millisecond
	defer func() { ReadyInterval = old }()

	path := filepath.Join(t.TempDir(), "a.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))
	assert.NoError(t, WaitReady(context.Background(), path, time.Second))
}

func TestWaitReadyMissingFile(t *testing.T) {
	old := ReadyInterval
	ReadyInterval = 10 * time.Millisecond
	defer func() { ReadyInterval = old }()

	err := WaitReady(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), 50*time.Millisecond)
	assert.True(t, errors.Is(err, ErrNotReady), "got %v", err)
}

func TestWaitReadyEmptyFile(t *testing.T) {
	old := ReadyInterval
	ReadyInterval = 10 * time.Millisecond
	defer func() { ReadyInterval = old }()

	path := filepath.Join(t.TempDir(), "empty.pdf")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.ErrorIs(t, WaitReady(context.Background(), path, 50*time.Millisecond), ErrNotReady)
}

func TestWaitReadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "missing.pdf")
	assert.ErrorIs(t, WaitReady(ctx, path, time.Minute), context.Canceled)
}
