package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"
)

// RunLock is the on-disk marker that keeps fleet runs from overlapping. Only
// the marker's existence and mtime matter; the content is informational.
type RunLock struct {
	path       string
	staleAfter time.Duration
	now        func() time.Time
}

func NewRunLock(path string, staleAfter time.Duration) *RunLock {
	return &RunLock{path: path, staleAfter: staleAfter, now: time.Now}
}

func (l *RunLock) Path() string {
	return l.path
}

// Acquire creates the marker. acquired is false with a nil error when a fresh
// marker from another run is present. A marker older than staleAfter is
// treated as left behind by a crashed run and replaced.
func (l *RunLock) Acquire(runID string) (release func(), acquired bool, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			writeErr := json.NewEncoder(f).Encode(map[string]any{
				"pid":  os.Getpid(),
				"run":  runID,
				"time": l.now().UTC().Format(time.RFC3339),
			})
			if closeErr := f.Close(); writeErr == nil {
				writeErr = closeErr
			}
			if writeErr != nil {
				log.Printf("Warning: failed to write lock %s: %v", l.path, writeErr)
			}
			return l.release, true, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, false, fmt.Errorf("create lock %s: %w", l.path, err)
		}

		info, statErr := os.Stat(l.path)
		if statErr != nil {
			if errors.Is(statErr, fs.ErrNotExist) {
				continue // released between our create and stat
			}
			return nil, false, fmt.Errorf("stat lock %s: %w", l.path, statErr)
		}

		age := l.now().Sub(info.ModTime())
		if age < l.staleAfter {
			return nil, false, nil
		}

		log.Printf("Removing stale lock %s (age %s)", l.path, age.Round(time.Second))
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, false, fmt.Errorf("remove stale lock %s: %w", l.path, err)
		}
	}
	return nil, false, nil
}

func (l *RunLock) release() {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: failed to remove lock %s: %v", l.path, err)
	}
}
