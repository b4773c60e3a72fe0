package scraper

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunLock_FreshMarkerSkips(t *testing.T) {
	lock := NewRunLock(filepath.Join(t.TempDir(), "tracker.lock"), 2*time.Hour)

	release, acquired, err := lock.Acquire("first")
	if err != nil || !acquired {
		t.Fatalf("first acquire: acquired=%v err=%v", acquired, err)
	}

	_, acquired, err = lock.Acquire("second")
	if err != nil {
		t.Fatalf("second acquire should not error: %v", err)
	}
	if acquired {
		t.Fatalf("second acquire must be skipped while marker is fresh")
	}

	release()
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Fatalf("expected marker removed on release")
	}

	release, acquired, err = lock.Acquire("third")
	if err != nil || !acquired {
		t.Fatalf("acquire after release: acquired=%v err=%v", acquired, err)
	}
	release()
}

func TestRunLock_StaleMarkerRecovered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.lock")
	if err := os.WriteFile(path, []byte("left by a crashed run"), 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("age marker: %v", err)
	}

	lock := NewRunLock(path, 2*time.Hour)
	release, acquired, err := lock.Acquire("run")
	if err != nil || !acquired {
		t.Fatalf("stale marker should be replaced: acquired=%v err=%v", acquired, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected a new marker: %v", err)
	}
	if time.Since(info.ModTime()) > time.Minute {
		t.Fatalf("expected a freshly created marker, mtime %s", info.ModTime())
	}

	release()
}

func TestRunLock_MarkerNamesRun(t *testing.T) {
	lock := NewRunLock(filepath.Join(t.TempDir(), "tracker.lock"), time.Hour)

	release, acquired, err := lock.Acquire("run-42")
	if err != nil || !acquired {
		t.Fatalf("acquire: acquired=%v err=%v", acquired, err)
	}
	defer release()

	data, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	var marker struct {
		PID int    `json:"pid"`
		Run string `json:"run"`
	}
	if err := json.Unmarshal(data, &marker); err != nil {
		t.Fatalf("marker is not JSON: %v (%q)", err, data)
	}
	if marker.Run != "run-42" || marker.PID != os.Getpid() {
		t.Fatalf("unexpected marker %+v", marker)
	}
}
