package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

const (
	maxLogSize    = 5 * 1024 * 1024 // 5MB
	maxLogBackups = 5
)

type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	size       int64
	maxSize    int64
	maxBackups int
}

// Setup opens dir/name and routes the standard logger to it and stdout.
func Setup(dir, name string) (*RotatingWriter, error) {
	rw, err := NewRotatingWriter(filepath.Join(dir, name), maxLogSize, maxLogBackups)
	if err != nil {
		return nil, err
	}

	multi := io.MultiWriter(os.Stdout, rw)
	log.SetOutput(multi)

	return rw, nil
}

func NewRotatingWriter(path string, maxSize int64, maxBackups int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	info, _ := f.Stat()
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	return &RotatingWriter{
		file:       f,
		path:       path,
		size:       size,
		maxSize:    maxSize,
		maxBackups: maxBackups,
	}, nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		w.rotate()
	}

	return n, err
}

// rotate shifts path.N-1 -> path.N down to path -> path.1; the oldest is dropped.
func (w *RotatingWriter) rotate() {
	w.file.Close()

	if w.maxBackups > 0 {
		os.Remove(backupName(w.path, w.maxBackups))
		for i := w.maxBackups - 1; i >= 1; i-- {
			os.Rename(backupName(w.path, i), backupName(w.path, i+1))
		}
		os.Rename(w.path, backupName(w.path, 1))
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return
	}

	w.file = f
	w.size = 0
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func backupName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}
