// Package watcher feeds document changes into a witnessing session.
//
// A Watcher monitors files for modification, waits for them to settle,
// hashes the new content, and hands the content hash to a session as
// the input bytes of one sample. The resulting evidence chain then
// binds each observed document state to a delay value.
//
// All sampling happens on the watcher's own goroutine, preserving the
// session's single-threaded contract.
package watcher

import (
	"crypto/sha256"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"physjitter/evidence"
	"physjitter/internal/logging"
)

// Sampler is the slice of a session the watcher needs.
type Sampler interface {
	Sample(inputs []byte) (uint32, *evidence.Record, error)
}

// Event reports one witnessed document state.
type Event struct {
	Path      string
	Hash      [32]byte
	Size      int64
	Sequence  uint64
	Jitter    uint32
	Timestamp time.Time
}

// Watcher monitors files and feeds stable changes into a Sampler.
type Watcher struct {
	fs       *fsnotify.Watcher
	sampler  Sampler
	log      *logging.Logger
	debounce time.Duration

	mu       sync.Mutex
	dirty    map[string]time.Time
	lastHash map[string][32]byte

	events chan Event
	errs   chan error
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a watcher over the given paths. Directories are watched
// recursively one level deep (their direct entries); files are watched
// through their parent directory, as editors replace files on save.
func New(sampler Sampler, paths []string, debounce time.Duration) (*Watcher, error) {
	if sampler == nil {
		return nil, errors.New("watcher: nil sampler")
	}
	if debounce <= 0 {
		debounce = time.Second
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:       fs,
		sampler:  sampler,
		log:      logging.Default().WithComponent("watcher"),
		debounce: debounce,
		dirty:    make(map[string]time.Time),
		lastHash: make(map[string][32]byte),
		events:   make(chan Event, 64),
		errs:     make(chan error, 8),
		done:     make(chan struct{}),
	}

	for _, p := range paths {
		target := p
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			target = filepath.Dir(p)
		}
		if err := fs.Add(target); err != nil {
			fs.Close()
			return nil, err
		}
	}

	return w, nil
}

// Start begins watching. Call Stop to end.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Events delivers witnessed document states.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors delivers non-fatal watch errors.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Stop ends watching and closes the event channels.
func (w *Watcher) Stop() {
	close(w.done)
	w.wg.Wait()
	w.fs.Close()
	close(w.events)
	close(w.errs)
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.markDirty(ev.Name)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.reportError(err)

		case now := <-ticker.C:
			for _, path := range w.settled(now) {
				w.witness(path)
			}
		}
	}
}

func (w *Watcher) markDirty(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirty[path] = time.Now()
}

// settled returns paths whose last change is older than the debounce
// interval, removing them from the dirty set.
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []string
	for path, changed := range w.dirty {
		if now.Sub(changed) >= w.debounce {
			ready = append(ready, path)
			delete(w.dirty, path)
		}
	}
	return ready
}

// witness hashes the file and samples the session with the content
// hash. Unchanged content is skipped.
func (w *Watcher) witness(path string) {
	hash, size, err := hashFile(path)
	if err != nil {
		// Deleted or unreadable between settle and read: not an event.
		w.log.Debug("skipping unreadable file", "path", path, "error", err)
		return
	}

	w.mu.Lock()
	prev, seen := w.lastHash[path]
	w.lastHash[path] = hash
	w.mu.Unlock()
	if seen && prev == hash {
		return
	}

	jitter, rec, err := w.sampler.Sample(hash[:])
	if err != nil {
		w.reportError(err)
		return
	}

	w.log.Debug("witnessed document state",
		"path", path, "sequence", rec.Sequence, "jitter_us", jitter)

	select {
	case w.events <- Event{
		Path:      path,
		Hash:      hash,
		Size:      size,
		Sequence:  rec.Sequence,
		Jitter:    jitter,
		Timestamp: time.Now(),
	}:
	default:
		// Slow consumer: drop rather than stall witnessing.
	}
}

func (w *Watcher) reportError(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

// hashFile computes the SHA-256 of a file's content.
func hashFile(path string) ([32]byte, int64, error) {
	var hash [32]byte

	f, err := os.Open(path)
	if err != nil {
		return hash, 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return hash, 0, err
	}

	copy(hash[:], h.Sum(nil))
	return hash, size, nil
}
