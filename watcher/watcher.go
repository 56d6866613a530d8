// Package watcher monitors a working folder for sidecar file changes made by
// external tools and publishes debounced change events. The orchestrator
// suspends it around its own sidecar writes so self-inflicted events never
// come back around.
package watcher

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quickcull/cullingbackend/fsscan"
	"github.com/quickcull/cullingbackend/models"
)

const (
	// restartDelay is the pause before reviving a dead watch loop.
	restartDelay = 2 * time.Second

	eventQueueSize = 64
)

// Watcher watches one folder (non-recursive) for sidecar changes.
type Watcher struct {
	folderPath string
	debounce   time.Duration
	cooldown   time.Duration

	events  chan models.ChangeEvent
	closeCh chan struct{}
	wg      sync.WaitGroup

	mu            sync.Mutex
	fsWatcher     *fsnotify.Watcher
	timers        map[string]*time.Timer
	pending       map[string]models.ChangeType // latest change type per sidecar path
	lastProcessed map[string]time.Time         // keyed by path + change type
	suspended     bool
	closed        bool
}

// New creates a watcher for the given folder. Start must be called before
// any events are delivered.
func New(folderPath string, debounce, cooldown time.Duration) *Watcher {
	return &Watcher{
		folderPath:    folderPath,
		debounce:      debounce,
		cooldown:      cooldown,
		events:        make(chan models.ChangeEvent, eventQueueSize),
		closeCh:       make(chan struct{}),
		timers:        make(map[string]*time.Timer),
		pending:       make(map[string]models.ChangeType),
		lastProcessed: make(map[string]time.Time),
	}
}

// Events is the stream of debounced sidecar change events.
func (w *Watcher) Events() <-chan models.ChangeEvent {
	return w.events
}

// Start begins watching. The watch loop revives itself after restartDelay if
// the underlying watcher dies.
func (w *Watcher) Start() error {
	if err := w.openFSWatcher(); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.run()
	log.Printf("Watching %s for sidecar changes", w.folderPath)
	return nil
}

func (w *Watcher) openFSWatcher() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(w.folderPath); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.folderPath, err)
	}
	w.mu.Lock()
	w.fsWatcher = fsw
	w.mu.Unlock()
	return nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		if closed := w.watchLoop(); closed {
			return
		}
		log.Printf("Sidecar watcher stopped unexpectedly, restarting in %v", restartDelay)
		for {
			select {
			case <-w.closeCh:
				return
			case <-time.After(restartDelay):
			}
			if err := w.openFSWatcher(); err == nil {
				break
			} else {
				log.Printf("Failed to restart sidecar watcher: %v", err)
			}
		}
	}
}

// watchLoop drains the fsnotify channels. It returns true when the watcher
// was closed deliberately, false when the loop should be restarted.
func (w *Watcher) watchLoop() bool {
	w.mu.Lock()
	fsw := w.fsWatcher
	w.mu.Unlock()

	defer fsw.Close()
	for {
		select {
		case <-w.closeCh:
			return true
		case event, ok := <-fsw.Events:
			if !ok {
				return false
			}
			w.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return false
			}
			log.Printf("Sidecar watcher error: %v", err)
			return false
		}
	}
}

// Suspend makes the watcher discard every event until Resume. Events for
// changes made during the window are dropped, not queued.
func (w *Watcher) Suspend() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suspended = true
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
		delete(w.pending, path)
	}
}

// Resume re-enables event delivery.
func (w *Watcher) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suspended = false
}

// Close stops the watcher. The events channel stays open but goes silent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for _, timer := range w.timers {
		timer.Stop()
	}
	w.timers = nil
	w.pending = nil
	w.mu.Unlock()

	w.wg.Wait()
	return nil
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.EqualFold(filepath.Ext(event.Name), fsscan.SidecarExt) {
		return
	}

	var change models.ChangeType
	switch {
	case event.Has(fsnotify.Create):
		change = models.ChangeCreated
	case event.Has(fsnotify.Write):
		change = models.ChangeModified
	case event.Has(fsnotify.Remove):
		change = models.ChangeDeleted
	case event.Has(fsnotify.Rename):
		// the new name arrives as a separate Create; the old one is gone
		change = models.ChangeDeleted
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.suspended || w.timers == nil {
		return
	}

	// latest change type wins; the timer restarts on every burst event
	w.pending[event.Name] = change
	if timer, ok := w.timers[event.Name]; ok {
		timer.Stop()
	}
	path := event.Name
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.flush(path)
	})
}

// flush emits the pending event for one sidecar path after the debounce
// window closes, unless an identical event fired within the cooldown.
func (w *Watcher) flush(sidecarPath string) {
	w.mu.Lock()
	if w.suspended || w.timers == nil {
		w.mu.Unlock()
		return
	}
	delete(w.timers, sidecarPath)
	change, ok := w.pending[sidecarPath]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, sidecarPath)

	cooldownKey := sidecarPath + "|" + string(change)
	if last, ok := w.lastProcessed[cooldownKey]; ok && time.Since(last) < w.cooldown {
		w.mu.Unlock()
		return
	}
	w.lastProcessed[cooldownKey] = time.Now()
	w.mu.Unlock()

	imagePath, imageFilename := resolveImage(sidecarPath)
	ev := models.ChangeEvent{
		SidecarPath:   sidecarPath,
		ImagePath:     imagePath,
		ImageFilename: imageFilename,
		Type:          change,
		Timestamp:     time.Now(),
	}

	select {
	case w.events <- ev:
	default:
		log.Printf("Warning: dropping sidecar event for %s, queue full", sidecarPath)
	}
}

// resolveImage finds the sibling image a sidecar belongs to: same directory,
// same filename stem, any supported image extension. Both return values are
// empty when no sibling exists anymore.
func resolveImage(sidecarPath string) (string, string) {
	dir := filepath.Dir(sidecarPath)
	stem := strings.TrimSuffix(filepath.Base(sidecarPath), filepath.Ext(sidecarPath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", ""
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !fsscan.IsSupported(name) {
			continue
		}
		if strings.EqualFold(strings.TrimSuffix(name, filepath.Ext(name)), stem) {
			return filepath.Join(dir, name), name
		}
	}
	return "", ""
}
