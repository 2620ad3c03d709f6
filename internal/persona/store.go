package persona

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store holds the active persona set and, when backed by a file, reloads it on
// change. A reload that fails validation keeps the previous set.
type Store struct {
	mu       sync.RWMutex
	set      *Set
	path     string
	debounce time.Duration

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewStore loads the set from path, or the embedded default when path is empty.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, debounce: 200 * time.Millisecond}
	if path == "" {
		s.set = Default()
		return s, nil
	}

	set, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	s.set = set
	return s, nil
}

func (s *Store) Current() *Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}

func (s *Store) SystemPrompt() string {
	return s.Current().SystemPrompt()
}

func (s *Store) Names() []string {
	return s.Current().Names()
}

func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	set, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
	return nil
}

// Watch starts reloading the persona file on write. It is a no-op for the
// embedded default. Stop releases the watcher.
func (s *Store) Watch() error {
	if s.path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("persona: failed to create watcher: %w", err)
	}
	// Watch the directory: editors often replace the file instead of writing it.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("persona: failed to watch %s: %w", s.path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.watcher = w
	s.cancel = cancel
	go s.loop(ctx)
	return nil
}

func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}

// loop reloads once events for the file have been quiet for the debounce
// interval, so a truncate followed by a write produces a single reload.
func (s *Store) loop(ctx context.Context) {
	target := filepath.Clean(s.path)
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := s.Reload(); err != nil {
				log.Printf("persona: reload of %s failed, keeping previous set: %v", s.path, err)
				continue
			}
			log.Printf("✓ Persona set reloaded from %s (%v)", s.path, s.Names())

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("persona: watcher error: %v", err)
		}
	}
}
