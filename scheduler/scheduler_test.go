package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"price_tracker/config"
	"price_tracker/models"
	"price_tracker/storage"
)

type fakeTracker struct {
	handled []models.Command
	fail    models.CommandType
	runs    int
}

func (f *fakeTracker) TrackAll(ctx context.Context) (models.RunStatus, error) {
	f.runs++
	return models.RunStatusCompleted, nil
}

func (f *fakeTracker) HandleCommand(ctx context.Context, cmd *models.Command) error {
	f.handled = append(f.handled, *cmd)
	if cmd.Command == f.fail {
		return errors.New("boom")
	}
	return nil
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "tracker.db"), storage.SQLiteOptions{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.SetupSchema(context.Background()); err != nil {
		t.Fatalf("setup schema: %v", err)
	}
	return store
}

func TestProcessCommands_DrainsInOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tracker := &fakeTracker{fail: models.CmdTrackOne}
	s := New(&config.Config{}, tracker, store)

	if _, err := store.EnqueueCommand(ctx, models.CmdPause, models.CommandParams{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := store.EnqueueCommand(ctx, models.CmdTrackOne, models.CommandParams{ProductID: 7}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if n := s.processCommands(ctx); n != 2 {
		t.Fatalf("expected 2 commands, got %d", n)
	}
	if tracker.handled[0].Command != models.CmdPause || tracker.handled[1].Command != models.CmdTrackOne {
		t.Fatalf("unexpected order %+v", tracker.handled)
	}

	params, err := tracker.handled[1].ParseParams()
	if err != nil || params.ProductID != 7 {
		t.Fatalf("expected product_id 7, got %+v (%v)", params, err)
	}

	// failed commands are still consumed
	if n := s.processCommands(ctx); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestStart_RejectsBadCron(t *testing.T) {
	cfg := &config.Config{Scheduler: config.SchedulerConfig{Cron: "not a cron"}}
	s := New(cfg, &fakeTracker{}, newTestStore(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err == nil {
		t.Fatalf("expected invalid cron error")
	}
}

func TestTriggerNow(t *testing.T) {
	tracker := &fakeTracker{}
	s := New(&config.Config{}, tracker, newTestStore(t))

	s.TriggerNow(context.Background())
	if tracker.runs != 1 {
		t.Fatalf("expected one fleet run, got %d", tracker.runs)
	}
}

// blockingTracker holds TrackAll open until release is closed.
type blockingTracker struct {
	started  chan struct{}
	release  chan struct{}
	finished atomic.Bool
}

func (b *blockingTracker) TrackAll(ctx context.Context) (models.RunStatus, error) {
	close(b.started)
	<-b.release
	b.finished.Store(true)
	return models.RunStatusCompleted, nil
}

func (b *blockingTracker) HandleCommand(ctx context.Context, cmd *models.Command) error {
	return nil
}

func TestStart_IntervalRunsImmediatelyAndStopWaits(t *testing.T) {
	tracker := &blockingTracker{started: make(chan struct{}), release: make(chan struct{})}
	cfg := &config.Config{Scheduler: config.SchedulerConfig{Interval: time.Hour}}
	s := New(cfg, tracker, newTestStore(t))

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-tracker.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a fleet run at startup")
	}

	cancel()
	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatalf("Stop returned while a fleet run was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(tracker.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatalf("Stop did not return after the run finished")
	}
	if !tracker.finished.Load() {
		t.Fatalf("expected the run to finish before Stop returned")
	}
}
