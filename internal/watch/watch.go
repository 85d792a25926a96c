// Package watch reports documents arriving in the input folder.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Options configure a Watcher.
type Options struct {
	Dir          string
	Extensions   []string
	PollInterval time.Duration
	Debounce     time.Duration
}

// Watcher combines filesystem notifications with a periodic directory scan;
// network shares often deliver no notifications at all. A path is delivered
// once and not again until Done is called for it.
type Watcher struct {
	opts   Options
	logger *zap.Logger
	fsw    *fsnotify.Watcher
	out    chan string

	mu       sync.Mutex
	pending  map[string]time.Time
	inflight map[string]struct{}
}

func New(opts Options, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".pdf", ".xlsx"}
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create input dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(opts.Dir); err != nil {
		// Polling still covers the folder.
		logger.Warn("watch: notifications unavailable, polling only",
			zap.String("dir", opts.Dir), zap.Error(err))
	}

	return &Watcher{
		opts:     opts,
		logger:   logger,
		fsw:      fsw,
		out:      make(chan string, 64),
		pending:  make(map[string]time.Time),
		inflight: make(map[string]struct{}),
	}, nil
}

// Paths delivers settled document paths. It is closed when Run returns.
func (w *Watcher) Paths() <-chan string { return w.out }

// Done releases path so that a later arrival under the same name is
// delivered again.
func (w *Watcher) Done(path string) {
	w.mu.Lock()
	delete(w.inflight, path)
	w.mu.Unlock()
}

// Run watches until ctx is canceled. It closes the notifier and the Paths
// channel before returning.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.out)
	defer w.fsw.Close()

	w.scan()

	poll := time.NewTicker(w.opts.PollInterval)
	defer poll.Stop()
	tick := w.opts.Debounce / 2
	if tick < 20*time.Millisecond {
		tick = 20 * time.Millisecond
	}
	flush := time.NewTicker(tick)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch: notifier error", zap.Error(err))

		case <-poll.C:
			w.scan()

		case <-flush.C:
			for _, p := range w.settled(time.Now()) {
				select {
				case w.out <- p:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !w.matches(ev.Name) {
		return
	}
	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.touch(ev.Name, time.Now())
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.mu.Lock()
		delete(w.pending, ev.Name)
		w.mu.Unlock()
	}
}

// scan queues every matching file in the folder. Files already queued keep
// their debounce timestamp.
func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		w.logger.Warn("watch: scan failed", zap.String("dir", w.opts.Dir), zap.Error(err))
		return
	}
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(w.opts.Dir, e.Name())
		if !w.matches(path) {
			continue
		}
		if _, busy := w.inflight[path]; busy {
			continue
		}
		if _, queued := w.pending[path]; !queued {
			w.pending[path] = now
		}
	}
}

func (w *Watcher) touch(path string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[path]; busy {
		return
	}
	w.pending[path] = at
}

// settled moves paths quiet for the debounce interval to in-flight and
// returns them sorted by name.
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for p, at := range w.pending {
		if now.Sub(at) < w.opts.Debounce {
			continue
		}
		delete(w.pending, p)
		w.inflight[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	// Hidden files and office lock files ("~$name.xlsx") are never documents.
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range w.opts.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
