package client

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/InsereNomen/AlderSync/internal/ignore"
	"github.com/rjeczalik/notify"
)

const (
	DefaultQuietPeriod = 2 * time.Second
	eventBufferSize    = 64
)

// Watcher reports that a folder changed once it has been quiet for a while.
// Bursts of events collapse into one signal.
type Watcher struct {
	folder string
	ignore *ignore.List
	quiet  time.Duration

	rawEvents chan notify.EventInfo
	changes   chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup

	mu     sync.Mutex
	timer  *time.Timer
	paused bool
}

func NewWatcher(folder string, ignoreList *ignore.List) *Watcher {
	// events carry resolved paths
	if resolved, err := filepath.EvalSymlinks(folder); err == nil {
		folder = resolved
	}
	return &Watcher{
		folder:  folder,
		ignore:  ignoreList,
		quiet:   DefaultQuietPeriod,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// SetQuietPeriod sets how long the folder must stay unchanged before a signal
func (w *Watcher) SetQuietPeriod(d time.Duration) {
	w.quiet = d
}

func (w *Watcher) Start(ctx context.Context) error {
	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	if err := notify.Watch(filepath.Join(w.folder, "..."), w.rawEvents, notify.All); err != nil {
		return err
	}
	slog.Debug("watcher start", "folder", w.folder, "quiet", w.quiet)

	w.wg.Add(1)
	go w.filterEvents(ctx)
	return nil
}

func (w *Watcher) Stop() {
	close(w.done)
	if w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	slog.Debug("watcher stopped", "folder", w.folder)
}

// Changes receives one value per quiet period that followed a change
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Pause drops events until Resume. A pending signal is cancelled.
func (w *Watcher) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	select {
	case <-w.changes:
	default:
	}
}

func (w *Watcher) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
}

func (w *Watcher) filterEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}
			if w.ignored(event.Path()) {
				continue
			}
			w.debounce()
		}
	}
}

func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.folder, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	rel = filepath.ToSlash(rel)
	if rel == StateDir || strings.HasPrefix(rel, StateDir+"/") {
		return true
	}
	return w.ignore.ShouldIgnore(rel)
}

func (w *Watcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused {
		return
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.quiet, func() {
		select {
		case w.changes <- struct{}{}:
		default:
		}
	})
}
