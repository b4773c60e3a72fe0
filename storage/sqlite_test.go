package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"price_tracker/models"
)

func newTestStore(t *testing.T, opts SQLiteOptions) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tracker.db"), opts)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.SetupSchema(context.Background()); err != nil {
		t.Fatalf("setup schema: %v", err)
	}
	return store
}

func price(v float64) *float64 { return &v }

func TestSetupSchema_Idempotent(t *testing.T) {
	store := newTestStore(t, SQLiteOptions{})
	if err := store.SetupSchema(context.Background()); err != nil {
		t.Fatalf("second setup failed: %v", err)
	}
}

func TestAddProduct_Defaults(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, SQLiteOptions{})

	id, err := store.AddProduct(ctx, "https://articulo.mercadolibre.com.pe/MPE-1", models.StoreMercadoLibre, price(95))
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	p, err := store.GetProduct(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if p == nil {
		t.Fatalf("expected product %d", id)
	}
	if p.Name != nil {
		t.Fatalf("expected no name before first scrape, got %q", *p.Name)
	}
	if p.Status != models.AvailabilityUnknown {
		t.Fatalf("expected unknown status, got %s", p.Status)
	}
	if p.TargetNotified {
		t.Fatalf("expected target_notified false")
	}
	if p.TargetPrice == nil || *p.TargetPrice != 95 {
		t.Fatalf("expected target 95, got %v", p.TargetPrice)
	}
	if p.InitialPrice != nil || p.LowestPrice != nil {
		t.Fatalf("expected empty initial/lowest prices")
	}
}

func TestAddProduct_DuplicateURL(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, SQLiteOptions{})

	url := "https://www.lacuracao.pe/tv.html"
	if _, err := store.AddProduct(ctx, url, models.StoreLaCuracao, nil); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	_, err := store.AddProduct(ctx, url, models.StoreLaCuracao, nil)
	if !errors.Is(err, ErrDuplicateURL) {
		t.Fatalf("expected ErrDuplicateURL, got %v", err)
	}
}

func TestGetProduct_Missing(t *testing.T) {
	store := newTestStore(t, SQLiteOptions{})
	p, err := store.GetProduct(context.Background(), 42)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil product, got %+v", p)
	}
}

func TestSetTargetPrice_ResetsNotified(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, SQLiteOptions{})

	id, _ := store.AddProduct(ctx, "https://www.lacuracao.pe/a", models.StoreLaCuracao, price(50))
	if err := store.MarkTargetNotified(ctx, id); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	p, _ := store.GetProduct(ctx, id)
	if !p.TargetNotified {
		t.Fatalf("expected notified flag set")
	}

	if err := store.SetTargetPrice(ctx, id, price(40)); err != nil {
		t.Fatalf("set target: %v", err)
	}
	p, _ = store.GetProduct(ctx, id)
	if p.TargetNotified {
		t.Fatalf("expected notified flag reset after target change")
	}
	if *p.TargetPrice != 40 {
		t.Fatalf("expected target 40, got %v", *p.TargetPrice)
	}

	if err := store.SetTargetPrice(ctx, 999, price(1)); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestMarkTargetNotified_RequiresTarget(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, SQLiteOptions{})

	id, _ := store.AddProduct(ctx, "https://www.lacuracao.pe/b", models.StoreLaCuracao, nil)
	if err := store.MarkTargetNotified(ctx, id); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	p, _ := store.GetProduct(ctx, id)
	if p.TargetNotified {
		t.Fatalf("notified flag must stay false without a target")
	}
}

func TestRecordObservation_PriceState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, SQLiteOptions{})

	id, _ := store.AddProduct(ctx, "https://www.lacuracao.pe/c", models.StoreLaCuracao, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.RecordObservation(ctx, id, models.Observation{
		Title: "TV 55", Price: 100, Availability: models.AvailabilityAvailable, ObservedAt: base,
	}); err != nil {
		t.Fatalf("record first: %v", err)
	}
	if err := store.RecordObservation(ctx, id, models.Observation{
		Title: "TV 55 4K", Price: 90, Availability: models.AvailabilityUnknown, ObservedAt: base.Add(time.Hour),
	}); err != nil {
		t.Fatalf("record second: %v", err)
	}

	p, _ := store.GetProduct(ctx, id)
	if p.Name == nil || *p.Name != "TV 55 4K" {
		t.Fatalf("expected name overwritten, got %v", p.Name)
	}
	if p.Status != models.AvailabilityAvailable {
		t.Fatalf("unknown availability must not overwrite status, got %s", p.Status)
	}

	state, err := store.GetPriceState(ctx, id)
	if err != nil {
		t.Fatalf("price state: %v", err)
	}
	if state.Current == nil || *state.Current != 90 {
		t.Fatalf("expected current 90, got %v", state.Current)
	}
	if state.Previous == nil || *state.Previous != 100 {
		t.Fatalf("expected previous 100, got %v", state.Previous)
	}

	history, err := store.PriceHistory(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Price != 100 || history[1].Price != 90 {
		t.Fatalf("unexpected history %+v", history)
	}
	if !history[0].ObservedAt.Equal(base) {
		t.Fatalf("expected observed_at %s, got %s", base, history[0].ObservedAt)
	}
}

func TestInitialAndLowestPriceGuards(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, SQLiteOptions{})

	id, _ := store.AddProduct(ctx, "https://www.lacuracao.pe/d", models.StoreLaCuracao, nil)

	store.SetInitialPrice(ctx, id, 100)
	store.SetInitialPrice(ctx, id, 70)
	store.SetLowestPrice(ctx, id, 80)
	store.SetLowestPrice(ctx, id, 120)

	p, _ := store.GetProduct(ctx, id)
	if *p.InitialPrice != 100 {
		t.Fatalf("initial price must be set once, got %v", *p.InitialPrice)
	}
	if *p.LowestPrice != 80 {
		t.Fatalf("lowest price must never increase, got %v", *p.LowestPrice)
	}
}

func TestDeleteProduct_CascadesHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, SQLiteOptions{})

	id, _ := store.AddProduct(ctx, "https://www.lacuracao.pe/e", models.StoreLaCuracao, nil)
	for i := 0; i < 3; i++ {
		store.RecordObservation(ctx, id, models.Observation{
			Title: "Laptop", Price: float64(100 - i), ObservedAt: time.Now(),
		})
	}

	if err := store.DeleteProduct(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var orphans int
	err := store.WithConnection(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_history WHERE product_id = ?`, id).Scan(&orphans)
	})
	if err != nil {
		t.Fatalf("count history: %v", err)
	}
	if orphans != 0 {
		t.Fatalf("expected history removed with product, found %d rows", orphans)
	}

	if err := store.DeleteProduct(ctx, id); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound on second delete, got %v", err)
	}
}

func TestListProductSummaries_LatestObservation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, SQLiteOptions{})

	first, _ := store.AddProduct(ctx, "https://www.lacuracao.pe/f", models.StoreLaCuracao, nil)
	second, _ := store.AddProduct(ctx, "https://articulo.mercadolibre.com.pe/MPE-2", models.StoreMercadoLibre, nil)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.RecordObservation(ctx, first, models.Observation{Title: "A", Price: 10, ObservedAt: base})
	store.RecordObservation(ctx, first, models.Observation{Title: "A", Price: 8, ObservedAt: base.Add(time.Minute)})

	summaries, err := store.ListProductSummaries(ctx)
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].ID != first || summaries[0].LatestPrice == nil || *summaries[0].LatestPrice != 8 {
		t.Fatalf("unexpected first summary %+v", summaries[0])
	}
	if summaries[1].ID != second || summaries[1].LatestPrice != nil || summaries[1].LatestAt != nil {
		t.Fatalf("expected no observation for second product, got %+v", summaries[1])
	}

	count, err := store.CountProducts(ctx)
	if err != nil || count != 2 {
		t.Fatalf("expected 2 products, got %d (%v)", count, err)
	}
}

func TestWithConnection_PoolExhausted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, SQLiteOptions{PoolSize: 1, AcquireTimeout: 50 * time.Millisecond})

	err := store.WithConnection(ctx, func(conn *sql.Conn) error {
		return store.WithConnection(ctx, func(inner *sql.Conn) error {
			return nil
		})
	})
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}

	// The held connection must be back in the pool.
	if _, err := store.CountProducts(ctx); err != nil {
		t.Fatalf("pool should recover after release: %v", err)
	}
}

func TestWithConnection_ReleasesOnPanic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, SQLiteOptions{PoolSize: 1, AcquireTimeout: 100 * time.Millisecond})

	func() {
		defer func() { recover() }()
		store.WithConnection(ctx, func(conn *sql.Conn) error {
			panic("boom")
		})
	}()

	if _, err := store.CountProducts(ctx); err != nil {
		t.Fatalf("connection should be released after panic: %v", err)
	}
}

func TestCommands_Queue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, SQLiteOptions{})

	id, err := store.EnqueueCommand(ctx, models.CmdTrackOne, models.CommandParams{ProductID: 7})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	cmds, err := store.GetPendingCommands(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Command != models.CmdTrackOne {
		t.Fatalf("unexpected pending commands %+v", cmds)
	}
	params, err := cmds[0].ParseParams()
	if err != nil || params.ProductID != 7 {
		t.Fatalf("unexpected params %+v (%v)", params, err)
	}

	if err := store.MarkCommandProcessed(ctx, id); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	cmds, _ = store.GetPendingCommands(ctx)
	if len(cmds) != 0 {
		t.Fatalf("expected no pending commands, got %d", len(cmds))
	}
}

func TestFleetRuns_Latest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, SQLiteOptions{})

	run := &models.FleetRun{ID: "run-1", StartedAt: time.Now(), Status: models.RunStatusRunning, ProductsTotal: 3}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	now := time.Now()
	run.FinishedAt = &now
	run.Status = models.RunStatusCompleted
	run.ProductsUpdated = 2
	run.ProductsFailed = 1
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	latest, err := store.LatestRun(ctx)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if latest == nil || latest.Status != models.RunStatusCompleted || latest.ProductsUpdated != 2 || latest.FinishedAt == nil {
		t.Fatalf("unexpected latest run %+v", latest)
	}
}
