// Package destdir manages the compiler's output directory as a scoped
// resource: purged and recreated on Acquire, owned by one run at a time,
// removed on Release.
package destdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrInUse is returned when another run in this process holds the directory.
var ErrInUse = errors.New("destination directory in use")

var (
	heldMu sync.Mutex
	held   = make(map[string]bool)
)

// Dir is an acquired destination directory.
type Dir struct {
	// Path is the directory as passed to Acquire.
	Path string

	// Keep leaves the directory on disk at Release.
	Keep bool

	key      string
	once     sync.Once
	released error
}

// Acquire claims path, deletes anything already there and creates it empty.
func Acquire(path string) (*Dir, error) {
	key, err := filepath.Abs(filepath.FromSlash(path))
	if err != nil {
		return nil, fmt.Errorf("resolve destination %s: %w", path, err)
	}

	heldMu.Lock()
	if held[key] {
		heldMu.Unlock()
		return nil, fmt.Errorf("%s: %w", path, ErrInUse)
	}
	held[key] = true
	heldMu.Unlock()

	if err := purge(key); err != nil {
		unhold(key)
		return nil, err
	}
	return &Dir{Path: path, key: key}, nil
}

func purge(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purge destination %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create destination %s: %w", dir, err)
	}
	return nil
}

func unhold(key string) {
	heldMu.Lock()
	delete(held, key)
	heldMu.Unlock()
}

// Release gives up the directory and removes it unless Keep is set. Calling
// it more than once returns the first result.
func (d *Dir) Release() error {
	d.once.Do(func() {
		if !d.Keep {
			if err := os.RemoveAll(d.key); err != nil {
				d.released = fmt.Errorf("remove destination %s: %w", d.Path, err)
			}
		}
		unhold(d.key)
	})
	return d.released
}

// Held reports whether path is currently acquired in this process.
func Held(path string) bool {
	key, err := filepath.Abs(filepath.FromSlash(path))
	if err != nil {
		return false
	}
	heldMu.Lock()
	defer heldMu.Unlock()
	return held[key]
}
