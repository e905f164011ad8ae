// Package watch turns raw filesystem notifications over project source
// roots into ordinal-stamped deltas a build session can consume.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/buildforge/internal/protocol"
)

// SubmitFunc receives each batched delta, e.g. (*session.Session).SubmitFSEvent.
type SubmitFunc func(event *protocol.FSEvent)

// DeltaSource watches a set of directories and emits debounced FSEvents
// with strictly increasing ordinals.
type DeltaSource struct {
	watcher  *fsnotify.Watcher
	submit   SubmitFunc
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	ordinal int64
	changed map[string]struct{}
	deleted map[string]struct{}

	stopChan chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

// New creates a delta source over the given root directories. The first
// emitted delta carries firstOrdinal.
func New(roots []string, firstOrdinal int64, debounce time.Duration, submit SubmitFunc, logger *slog.Logger) (*DeltaSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	for _, root := range roots {
		if err := watcher.Add(root); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", root, err)
		}
	}
	return &DeltaSource{
		watcher:  watcher,
		submit:   submit,
		debounce: debounce,
		logger:   logger,
		ordinal:  firstOrdinal,
		changed:  make(map[string]struct{}),
		deleted:  make(map[string]struct{}),
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins watching. Batches are flushed after a quiet period of the
// configured debounce duration.
func (ds *DeltaSource) Start(ctx context.Context) {
	ds.done.Add(1)
	go ds.loop(ctx)
}

func (ds *DeltaSource) loop(ctx context.Context) {
	defer ds.done.Done()

	var flush <-chan time.Time
	timer := time.NewTimer(ds.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ds.stopChan:
			return
		case ev, ok := <-ds.watcher.Events:
			if !ok {
				return
			}
			ds.record(ev)
			timer.Reset(ds.debounce)
			flush = timer.C
		case err, ok := <-ds.watcher.Errors:
			if !ok {
				return
			}
			ds.logger.Warn("file watcher error", "error", err)
		case <-flush:
			flush = nil
			ds.flush()
		}
	}
}

func (ds *DeltaSource) record(ev fsnotify.Event) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	switch {
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		delete(ds.changed, ev.Name)
		ds.deleted[ev.Name] = struct{}{}
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Chmod):
		delete(ds.deleted, ev.Name)
		ds.changed[ev.Name] = struct{}{}
	}
}

// flush emits the accumulated batch, if any, with the next ordinal.
func (ds *DeltaSource) flush() {
	ds.mu.Lock()
	if len(ds.changed) == 0 && len(ds.deleted) == 0 {
		ds.mu.Unlock()
		return
	}
	event := &protocol.FSEvent{Ordinal: ds.ordinal}
	for p := range ds.deleted {
		event.DeletedPaths = append(event.DeletedPaths, p)
	}
	for p := range ds.changed {
		event.ChangedPaths = append(event.ChangedPaths, p)
	}
	sort.Strings(event.DeletedPaths)
	sort.Strings(event.ChangedPaths)
	ds.ordinal++
	ds.changed = make(map[string]struct{})
	ds.deleted = make(map[string]struct{})
	ds.mu.Unlock()

	ds.logger.Debug("filesystem delta batched",
		"ordinal", event.Ordinal,
		"changed", len(event.ChangedPaths),
		"deleted", len(event.DeletedPaths))
	ds.submit(event)
}

// Stop ends watching and waits for the loop to exit.
func (ds *DeltaSource) Stop() {
	ds.stopOnce.Do(func() {
		close(ds.stopChan)
		_ = ds.watcher.Close()
	})
	ds.done.Wait()
}
