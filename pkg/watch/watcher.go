// Package watch turns a drop folder into a run queue: every tabular file that
// lands in the inbox is handed, one at a time, to a handler.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// DefaultExtensions are the tabular inputs picked up by default.
var DefaultExtensions = []string{".xlsx", ".xlsm", ".csv"}

// Handler processes one inbox file. Errors are reported through OnError and
// do not stop the inbox.
type Handler func(ctx context.Context, path string) error

// Inbox watches a directory for new tabular files.
type Inbox struct {
	dir      string
	exts     map[string]bool
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
	seen   map[string]fileState

	queue chan string

	OnError func(path string, err error)
}

type fileState struct {
	modified time.Time
	size     int64
}

// NewInbox watches dir. Files are handled once they have been quiet for
// debounce. With no extensions given, DefaultExtensions apply.
func NewInbox(dir string, debounce time.Duration, exts ...string) (*Inbox, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat inbox: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inbox %s is not a directory", absDir)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(absDir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[strings.ToLower(e)] = true
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &Inbox{
		dir:      absDir,
		exts:     set,
		debounce: debounce,
		watcher:  fsWatcher,
		timers:   make(map[string]*time.Timer),
		seen:     make(map[string]fileState),
		queue:    make(chan string, 64),
	}, nil
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string {
	return in.dir
}

// Accepts reports whether a file name is a tabular input. Hidden files and
// office lock files (~$name.xlsx) are skipped.
func (in *Inbox) Accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	return in.exts[strings.ToLower(filepath.Ext(base))]
}

// Serve runs the watch loop and a single worker until ctx is cancelled.
// The worker handles files strictly one after another.
func (in *Inbox) Serve(ctx context.Context, h Handler) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return in.loop(ctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case path := <-in.queue:
				if err := h(ctx, path); err != nil {
					in.reportError(path, err)
				}
			}
		}
	})

	return g.Wait()
}

func (in *Inbox) loop(ctx context.Context) error {
	defer in.watcher.Close()
	defer in.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-in.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !in.Accepts(event.Name) {
				continue
			}
			in.schedule(ctx, event.Name)

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return nil
			}
			in.reportError(in.dir, err)
		}
	}
}

// schedule debounces rapid writes to the same file.
func (in *Inbox) schedule(ctx context.Context, path string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if timer, exists := in.timers[path]; exists {
		timer.Stop()
	}
	in.timers[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.timers, path)
		in.mu.Unlock()

		if !in.changed(path) {
			return
		}
		select {
		case in.queue <- path:
		case <-ctx.Done():
		}
	})
}

// changed reports whether path differs from the last version queued.
func (in *Inbox) changed(path string) bool {
	stat, err := os.Stat(path)
	if err != nil {
		// Removed before it settled
		return false
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	state := fileState{modified: stat.ModTime(), size: stat.Size()}
	if prev, ok := in.seen[path]; ok && prev.modified.Equal(state.modified) && prev.size == state.size {
		return false
	}
	in.seen[path] = state
	return true
}

func (in *Inbox) stopTimers() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for path, timer := range in.timers {
		timer.Stop()
		delete(in.timers, path)
	}
}

func (in *Inbox) reportError(path string, err error) {
	if in.OnError != nil {
		in.OnError(path, err)
	}
}

// Close stops the watcher without serving.
func (in *Inbox) Close() error {
	return in.watcher.Close()
}
