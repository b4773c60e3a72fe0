package scraper

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"price_tracker/config"
	"price_tracker/metrics"
	"price_tracker/models"
	"price_tracker/storage"
)

// Alerter delivers a formatted message somewhere. It must not block on delivery.
type Alerter interface {
	Alert(ctx context.Context, message string)
}

type Orchestrator struct {
	store      storage.Store
	extractors *Registry
	sessions   SessionFactory
	alerts     Alerter
	lock       *RunLock
	pacing     Pacing
	currency   string

	mu     sync.Mutex
	paused bool
}

func NewOrchestrator(cfg *config.Config, store storage.Store, extractors *Registry, sessions SessionFactory, alerts Alerter) *Orchestrator {
	return &Orchestrator{
		store:      store,
		extractors: extractors,
		sessions:   sessions,
		alerts:     alerts,
		lock:       NewRunLock(cfg.Lock.Path, cfg.Lock.StaleAfter),
		pacing:     Pacing{Min: cfg.Scraper.PacingMin, Max: cfg.Scraper.PacingMax},
		currency:   cfg.Currency,
	}
}

// TrackOne scrapes a single product in its own session. Failures are logged,
// never returned; callers read the outcome or the store afterwards.
//
// This path does not take the fleet lock, so it can overlap a running fleet
// run on the same product. The storage layer's locking absorbs that.
func (o *Orchestrator) TrackOne(ctx context.Context, id int64) models.Outcome {
	product, err := o.store.GetProduct(ctx, id)
	if err != nil {
		log.Printf("[%s] product %d: lookup failed: %v", models.LogLevelError, id, err)
		return models.OutcomeFailed
	}
	if product == nil {
		log.Printf("[%s] product %d: not found", models.LogLevelWarn, id)
		return models.OutcomeFailed
	}

	extractor, err := o.extractors.Lookup(product.Store)
	if err != nil {
		o.log("", models.LogLevelWarn, fmt.Sprintf("Skipping product %d: %v", product.ID, err), product.Store)
		o.record(product.Store, models.OutcomeFailed)
		return models.OutcomeFailed
	}

	session, err := o.sessions.NewSession(ctx)
	if err != nil {
		metrics.SessionFailures.WithLabelValues(string(product.Store)).Inc()
		o.log("", models.LogLevelError, fmt.Sprintf("Could not create session for product %d: %v", product.ID, err), product.Store)
		o.record(product.Store, models.OutcomeFailed)
		return models.OutcomeFailed
	}
	defer session.Close()

	return o.attempt(ctx, "", session, extractor, product)
}

// TrackAll refreshes every product: one worker per store in parallel, each
// walking its products sequentially with randomized pacing. A fresh lock from
// another run yields RunStatusSkipped and no error.
func (o *Orchestrator) TrackAll(ctx context.Context) (models.RunStatus, error) {
	runID := uuid.NewString()

	if o.IsPaused() {
		log.Println("Tracker is paused, skipping fleet run")
		o.recordEndedRun(ctx, runID, models.RunStatusSkipped)
		return models.RunStatusSkipped, nil
	}

	release, acquired, err := o.lock.Acquire(runID)
	if err != nil {
		o.recordEndedRun(ctx, runID, models.RunStatusFailed)
		return models.RunStatusFailed, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		log.Printf("Another fleet run holds %s, skipping", o.lock.Path())
		o.recordEndedRun(ctx, runID, models.RunStatusSkipped)
		return models.RunStatusSkipped, nil
	}
	defer release()

	products, err := o.store.ListProducts(ctx)
	if err != nil {
		o.recordEndedRun(ctx, runID, models.RunStatusFailed)
		return models.RunStatusFailed, fmt.Errorf("list products: %w", err)
	}

	run := &models.FleetRun{
		ID:            runID,
		StartedAt:     time.Now(),
		Status:        models.RunStatusRunning,
		ProductsTotal: len(products),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		log.Printf("Warning: failed to create run record: %v", err)
	}

	o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Starting fleet run for %d products", len(products)), "")

	groups := groupByStore(products)
	var (
		wg      sync.WaitGroup
		statsMu sync.Mutex
	)
	for _, g := range groups {
		wg.Add(1)
		go func(g storeGroup) {
			defer wg.Done()
			outcomes := o.runStore(ctx, run.ID, g)

			statsMu.Lock()
			for _, outcome := range outcomes {
				run.Count(outcome)
			}
			statsMu.Unlock()
		}(g)
	}
	wg.Wait()

	now := time.Now()
	run.FinishedAt = &now
	run.Status = models.RunStatusCompleted
	if err := o.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		log.Printf("Warning: failed to update run record: %v", err)
	}

	metrics.FleetRuns.WithLabelValues(string(run.Status)).Inc()
	metrics.FleetRunDuration.Observe(now.Sub(run.StartedAt).Seconds())
	o.log(run.ID, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d updated, %d unavailable, %d failed across %d stores",
			run.ProductsUpdated, run.ProductsUnavailable, run.ProductsFailed, len(groups)), "")

	return models.RunStatusCompleted, nil
}

// recordEndedRun writes a run that stopped before any product was touched.
func (o *Orchestrator) recordEndedRun(ctx context.Context, runID string, status models.RunStatus) {
	metrics.FleetRuns.WithLabelValues(string(status)).Inc()

	now := time.Now()
	run := &models.FleetRun{ID: runID, StartedAt: now, FinishedAt: &now, Status: status}
	ctx = context.WithoutCancel(ctx)
	if err := o.store.CreateRun(ctx, run); err != nil {
		log.Printf("Warning: failed to create run record: %v", err)
		return
	}
	if err := o.store.UpdateRun(ctx, run); err != nil {
		log.Printf("Warning: failed to update run record: %v", err)
	}
}

type storeGroup struct {
	store    models.StoreID
	products []models.Product
}

// groupByStore keeps listing order inside each group.
func groupByStore(products []models.Product) []storeGroup {
	index := make(map[models.StoreID]int)
	var groups []storeGroup
	for _, p := range products {
		i, ok := index[p.Store]
		if !ok {
			i = len(groups)
			index[p.Store] = i
			groups = append(groups, storeGroup{store: p.Store})
		}
		groups[i].products = append(groups[i].products, p)
	}
	return groups
}

// runStore is one store's worker. Whatever goes wrong here stays here.
func (o *Orchestrator) runStore(ctx context.Context, runID string, g storeGroup) (outcomes []models.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.log(runID, models.LogLevelError, fmt.Sprintf("Worker crashed: %v", r), g.store)
			for len(outcomes) < len(g.products) {
				outcomes = append(outcomes, models.OutcomeFailed)
			}
		}
	}()

	failAll := func() []models.Outcome {
		out := make([]models.Outcome, len(g.products))
		for i := range out {
			out[i] = models.OutcomeFailed
			o.record(g.store, models.OutcomeFailed)
		}
		return out
	}

	extractor, err := o.extractors.Lookup(g.store)
	if err != nil {
		o.log(runID, models.LogLevelWarn, fmt.Sprintf("Skipping %d products: %v", len(g.products), err), g.store)
		return failAll()
	}

	session, err := o.sessions.NewSession(ctx)
	if err != nil {
		metrics.SessionFailures.WithLabelValues(string(g.store)).Inc()
		o.log(runID, models.LogLevelError, fmt.Sprintf("Could not create session, aborting store: %v", err), g.store)
		return failAll()
	}
	defer session.Close()

	o.log(runID, models.LogLevelInfo, fmt.Sprintf("Processing %d products", len(g.products)), g.store)

	for i := range g.products {
		if i > 0 {
			if err := o.pacing.Wait(ctx); err != nil {
				o.log(runID, models.LogLevelWarn, fmt.Sprintf("Stopping early: %v", err), g.store)
				break
			}
		}
		outcomes = append(outcomes, o.attempt(ctx, runID, session, extractor, &g.products[i]))
	}
	for len(outcomes) < len(g.products) {
		outcomes = append(outcomes, models.OutcomeFailed)
	}
	return outcomes
}

// attempt runs one product through navigate, extract and the decision step.
func (o *Orchestrator) attempt(ctx context.Context, runID string, page Page, extractor Extractor, product *models.Product) models.Outcome {
	outcome := o.decide(ctx, runID, page, extractor, product)
	o.record(product.Store, outcome)
	return outcome
}

func (o *Orchestrator) decide(ctx context.Context, runID string, page Page, extractor Extractor, product *models.Product) models.Outcome {
	if err := page.Navigate(ctx, product.URL); err != nil {
		o.log(runID, models.LogLevelError, fmt.Sprintf("Product %d: %v", product.ID, err), product.Store)
		return models.OutcomeFailed
	}

	result, err := safeExtract(ctx, extractor, page)
	if err != nil {
		o.log(runID, models.LogLevelError, fmt.Sprintf("Product %d: extraction failed: %v", product.ID, err), product.Store)
		return models.OutcomeFailed
	}

	switch {
	case result.Title != "" && result.Price > 0:
		obs := models.Observation{
			Title:        result.Title,
			Price:        result.Price,
			Availability: result.Availability,
			ObservedAt:   time.Now(),
		}
		if err := o.store.RecordObservation(ctx, product.ID, obs); err != nil {
			o.log(runID, models.LogLevelError, fmt.Sprintf("Product %d: saving observation: %v", product.ID, err), product.Store)
			return models.OutcomeFailed
		}
		o.log(runID, models.LogLevelInfo, fmt.Sprintf("Product %d: %s at %.2f", product.ID, result.Title, result.Price), product.Store)
		o.checkPrice(ctx, runID, product, result)
		return models.OutcomeUpdated

	case result.Availability == models.AvailabilityUnavailable:
		if err := o.store.UpdateAvailability(ctx, product.ID, models.AvailabilityUnavailable); err != nil {
			o.log(runID, models.LogLevelError, fmt.Sprintf("Product %d: updating status: %v", product.ID, err), product.Store)
			return models.OutcomeFailed
		}
		o.log(runID, models.LogLevelInfo, fmt.Sprintf("Product %d: unavailable", product.ID), product.Store)
		return models.OutcomeUnavailable

	default:
		o.log(runID, models.LogLevelWarn,
			fmt.Sprintf("Product %d: incomplete data (title=%q price=%.2f status=%s)",
				product.ID, result.Title, result.Price, result.Availability), product.Store)
		return models.OutcomeFailed
	}
}

// safeExtract turns an extractor panic into an error.
func safeExtract(ctx context.Context, extractor Extractor, page Page) (result Extraction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panic: %v", r)
		}
	}()
	return extractor.Extract(ctx, page)
}

func (o *Orchestrator) record(store models.StoreID, outcome models.Outcome) {
	metrics.Attempts.WithLabelValues(string(store), string(outcome)).Inc()
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := cmd.ParseParams()
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdTrackAll:
		_, err := o.TrackAll(ctx)
		return err
	case models.CmdTrackOne:
		if params.ProductID == 0 {
			return fmt.Errorf("%s requires product_id", cmd.Command)
		}
		o.TrackOne(ctx, params.ProductID)
	case models.CmdPause:
		o.setPaused(true)
		log.Println("Tracker paused")
	case models.CmdResume:
		o.setPaused(false)
		log.Println("Tracker resumed")
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}

	return nil
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) setPaused(paused bool) {
	o.mu.Lock()
	o.paused = paused
	o.mu.Unlock()
}

func (o *Orchestrator) log(runID string, level models.LogLevel, message string, store models.StoreID) {
	log.Printf("[%s] %s: %s", level, store, message)
	if runID != "" {
		if err := o.store.Log(context.Background(), runID, level, message, string(store)); err != nil {
			log.Printf("Warning: failed to persist log: %v", err)
		}
	}
}
