package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce coalesces the bursts of events a single external write
// produces (create, write, rename).
const watchDebounce = 50 * time.Millisecond

// FileStore keeps one file per key in a directory. Writes go through a
// temporary file and a rename so readers never see a partial value.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger

	// Last value written per key, used to ignore our own writes in Watch
	written map[string][]byte

	closed bool
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithFileLogger sets the logger used to report watcher errors.
func WithFileLogger(logger *zap.Logger) FileOption {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFileStore creates the directory if needed and returns a store rooted there.
func NewFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create %s: %w", dir, err)
	}
	s := &FileStore{dir: dir, logger: zap.NewNop(), written: make(map[string][]byte)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the backing directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file that holds key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("file store: read %s: %w", key, err)
	}
	return data, nil
}

// Put implements Store.
func (s *FileStore) Put(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("file store: temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file store: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: replace %s: %w", key, err)
	}

	s.written[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	delete(s.written, key)
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("file store: delete %s: %w", key, err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Watch implements Watcher. It watches the directory rather than the file
// because atomic replacement swaps the inode out from under a file watch.
// Events whose content matches this store's last write are ignored, and
// bursts of events are coalesced into one call to fn.
func (s *FileStore) Watch(ctx context.Context, key string, fn func()) error {
	if err := validateKey(key); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file store: watcher: %w", err)
	}
	if err := fsw.Add(s.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("file store: watch %s: %w", s.dir, err)
	}

	target := filepath.Clean(s.Path(key))

	go func() {
		defer fsw.Close()

		timer := time.NewTimer(watchDebounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
					!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				timer.Reset(watchDebounce)
			case <-timer.C:
				if s.isOwnWrite(key) {
					continue
				}
				fn()
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				s.logger.Warn("file watch error",
					zap.String("key", key),
					zap.Error(err),
				)
			}
		}
	}()

	return nil
}

// isOwnWrite reports whether the file currently holds what this store wrote last.
func (s *FileStore) isOwnWrite(key string) bool {
	s.mu.Lock()
	last, ok := s.written[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	current, err := os.ReadFile(s.Path(key))
	if err != nil {
		return false
	}
	return bytes.Equal(current, last)
}
