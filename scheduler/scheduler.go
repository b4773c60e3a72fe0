package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"price_tracker/config"
	"price_tracker/models"
	"price_tracker/storage"
)

const commandPollInterval = 2 * time.Second

// Tracker is the engine surface the scheduler drives. Satisfied by
// scraper.Orchestrator.
type Tracker interface {
	TrackAll(ctx context.Context) (models.RunStatus, error)
	HandleCommand(ctx context.Context, cmd *models.Command) error
}

type Scheduler struct {
	cfg     *config.Config
	tracker Tracker
	store   storage.Store
	cron    *cron.Cron
	ticker  *time.Ticker
	stopCh  chan struct{}
	running sync.WaitGroup
}

func New(cfg *config.Config, tracker Tracker, store storage.Store) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		tracker: tracker,
		store:   store,
		cron:    cron.New(),
		stopCh:  make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		s.pollCommands(ctx)
	}()

	if s.cfg.Scheduler.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			s.runFleet(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Scheduler.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		s.running.Add(1)
		go func() {
			defer s.running.Done()
			s.TriggerNow(ctx)

			for {
				select {
				case <-s.ticker.C:
					s.runFleet(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, daemon will only respond to commands")
	}

	return nil
}

// Stop halts scheduling and blocks until an in-flight fleet run returns, so
// its run lock is released before the process exits.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.running.Wait()
}

// TriggerNow runs one fleet run on the caller's goroutine. The interval loop
// calls it once at startup.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	s.runFleet(ctx)
}

func (s *Scheduler) runFleet(ctx context.Context) {
	status, err := s.tracker.TrackAll(ctx)
	if err != nil {
		log.Printf("Scheduled run error: %v", err)
		return
	}
	log.Printf("Scheduled run %s", status)
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(commandPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// processCommands drains the queue once. A command is marked processed even
// when it fails so a bad row cannot wedge the queue.
func (s *Scheduler) processCommands(ctx context.Context) int {
	cmds, err := s.store.GetPendingCommands(ctx)
	if err != nil {
		log.Printf("Error getting commands: %v", err)
		return 0
	}

	for i := range cmds {
		cmd := &cmds[i]
		log.Printf("Processing command: %s", cmd.Command)
		if err := s.tracker.HandleCommand(ctx, cmd); err != nil {
			log.Printf("Command error: %v", err)
		}
		if err := s.store.MarkCommandProcessed(ctx, cmd.ID); err != nil {
			log.Printf("Error marking command processed: %v", err)
		}
	}
	return len(cmds)
}
