package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"price_tracker/models"
)

type SQLiteOptions struct {
	PoolSize       int
	AcquireTimeout time.Duration
	BusyTimeout    time.Duration
}

type SQLiteStore struct {
	db             *sql.DB
	acquireTimeout time.Duration
}

// NewSQLiteStore opens dbPath in WAL mode behind a pool of opts.PoolSize
// connections. Foreign keys are switched on per connection through the DSN.
func NewSQLiteStore(dbPath string, opts SQLiteOptions) (*SQLiteStore, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 5
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 30 * time.Second
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 15 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=1",
		dbPath, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(opts.PoolSize)
	db.SetMaxIdleConns(opts.PoolSize)

	return &SQLiteStore{db: db, acquireTimeout: opts.AcquireTimeout}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithConnection hands fn a pooled connection and returns it afterwards,
// including when fn panics. Waiting longer than the acquire timeout yields
// ErrPoolExhausted.
func (s *SQLiteStore) WithConnection(ctx context.Context, fn func(conn *sql.Conn) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	conn, err := s.db.Conn(acquireCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrPoolExhausted
		}
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	return fn(conn)
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := s.WithConnection(ctx, func(conn *sql.Conn) error {
		var err error
		result, err = conn.ExecContext(ctx, query, args...)
		return err
	})
	return result, err
}

func (s *SQLiteStore) SetupSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		name TEXT,
		store TEXT NOT NULL,
		initial_price REAL,
		target_price REAL,
		target_notified BOOLEAN NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'unknown',
		lowest_price REAL
	);

	CREATE TABLE IF NOT EXISTS price_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL,
		price REAL NOT NULL,
		observed_at DATETIME NOT NULL,
		FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_price_history_product ON price_history(product_id, observed_at);

	CREATE TABLE IF NOT EXISTS fleet_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		products_total INTEGER DEFAULT 0,
		products_updated INTEGER DEFAULT 0,
		products_unavailable INTEGER DEFAULT 0,
		products_failed INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		store TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);
	`
	_, err := s.exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("setup schema: %w", err)
	}
	return nil
}

// =============================================================================
// Products
// =============================================================================

const productColumns = `p.id, p.url, p.name, p.store, p.initial_price, p.target_price,
	p.lowest_price, p.status, p.target_notified`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner, extra ...any) (*models.Product, error) {
	var p models.Product
	var name sql.NullString
	var initial, target, lowest sql.NullFloat64
	var status string

	dest := []any{&p.ID, &p.URL, &name, &p.Store, &initial, &target, &lowest, &status, &p.TargetNotified}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if name.Valid {
		p.Name = &name.String
	}
	p.InitialPrice = nullFloat(initial)
	p.TargetPrice = nullFloat(target)
	p.LowestPrice = nullFloat(lowest)
	p.Status = models.ParseAvailability(status)
	return &p, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (s *SQLiteStore) AddProduct(ctx context.Context, url string, store models.StoreID, target *float64) (int64, error) {
	result, err := s.exec(ctx, `
		INSERT INTO products (url, store, target_price, target_notified, status)
		VALUES (?, ?, ?, 0, ?)`,
		url, store, target, models.AvailabilityUnknown)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateURL
		}
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product *models.Product
	err := s.WithConnection(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = ?`, id)
		var err error
		product, err = scanProduct(row)
		return err
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *SQLiteStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.WithConnection(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT `+productColumns+` FROM products p ORDER BY p.id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanProduct(rows)
			if err != nil {
				return err
			}
			products = append(products, *p)
		}
		return rows.Err()
	})
	return products, err
}

func (s *SQLiteStore) ListProductSummaries(ctx context.Context) ([]models.ProductSummary, error) {
	var summaries []models.ProductSummary
	err := s.WithConnection(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT `+productColumns+`, h.price, h.observed_at
			FROM products p
			LEFT JOIN price_history h ON h.id = (
				SELECT id FROM price_history
				WHERE product_id = p.id
				ORDER BY observed_at DESC, id DESC LIMIT 1)
			ORDER BY p.id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var latest sql.NullFloat64
			var latestAt sql.NullTime
			p, err := scanProduct(rows, &latest, &latestAt)
			if err != nil {
				return err
			}
			summary := models.ProductSummary{Product: *p, LatestPrice: nullFloat(latest)}
			if latestAt.Valid {
				summary.LatestAt = &latestAt.Time
			}
			summaries = append(summaries, summary)
		}
		return rows.Err()
	})
	return summaries, err
}

func (s *SQLiteStore) CountProducts(ctx context.Context) (int, error) {
	var count int
	err := s.WithConnection(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count)
	})
	return count, err
}

// SetTargetPrice replaces the target and re-arms the target notification.
func (s *SQLiteStore) SetTargetPrice(ctx context.Context, id int64, target *float64) error {
	result, err := s.exec(ctx, `UPDATE products SET target_price = ?, target_notified = 0 WHERE id = ?`, target, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (s *SQLiteStore) DeleteProduct(ctx context.Context, id int64) error {
	result, err := s.exec(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProductNotFound
	}
	return nil
}

// =============================================================================
// Observations
// =============================================================================

// RecordObservation appends the price and overwrites name and status in one
// transaction. An unknown availability leaves the stored status alone.
func (s *SQLiteStore) RecordObservation(ctx context.Context, id int64, obs models.Observation) error {
	return s.WithConnection(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO price_history (product_id, price, observed_at) VALUES (?, ?, ?)`,
			id, obs.Price, obs.ObservedAt.UTC()); err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE products SET name = ? WHERE id = ?`, obs.Title, id); err != nil {
			return fmt.Errorf("update name: %w", err)
		}
		if obs.Availability != models.AvailabilityUnknown {
			if _, err := tx.ExecContext(ctx, `UPDATE products SET status = ? WHERE id = ?`, obs.Availability, id); err != nil {
				return fmt.Errorf("update status: %w", err)
			}
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) UpdateAvailability(ctx context.Context, id int64, status models.Availability) error {
	_, err := s.exec(ctx, `UPDATE products SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *SQLiteStore) GetPriceState(ctx context.Context, id int64) (*models.PriceState, error) {
	state := &models.PriceState{}
	err := s.WithConnection(ctx, func(conn *sql.Conn) error {
		var initial, target, lowest sql.NullFloat64
		err := conn.QueryRowContext(ctx, `
			SELECT initial_price, target_price, target_notified, lowest_price
			FROM products WHERE id = ?`, id).Scan(&initial, &target, &state.TargetNotified, &lowest)
		if err != nil {
			return err
		}
		state.InitialPrice = nullFloat(initial)
		state.TargetPrice = nullFloat(target)
		state.LowestPrice = nullFloat(lowest)

		rows, err := conn.QueryContext(ctx, `
			SELECT price FROM price_history WHERE product_id = ?
			ORDER BY observed_at DESC, id DESC LIMIT 2`, id)
		if err != nil {
			return err
		}
		defer rows.Close()

		var prices []float64
		for rows.Next() {
			var price float64
			if err := rows.Scan(&price); err != nil {
				return err
			}
			prices = append(prices, price)
		}
		if len(prices) > 0 {
			state.Current = &prices[0]
		}
		if len(prices) > 1 {
			state.Previous = &prices[1]
		}
		return rows.Err()
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// SetInitialPrice only ever fills an empty baseline.
func (s *SQLiteStore) SetInitialPrice(ctx context.Context, id int64, price float64) error {
	_, err := s.exec(ctx, `UPDATE products SET initial_price = ? WHERE id = ? AND initial_price IS NULL`, price, id)
	return err
}

// SetLowestPrice never raises the stored minimum.
func (s *SQLiteStore) SetLowestPrice(ctx context.Context, id int64, price float64) error {
	_, err := s.exec(ctx, `
		UPDATE products SET lowest_price = ?
		WHERE id = ? AND (lowest_price IS NULL OR lowest_price > ?)`, price, id, price)
	return err
}

func (s *SQLiteStore) MarkTargetNotified(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `UPDATE products SET target_notified = 1 WHERE id = ? AND target_price IS NOT NULL`, id)
	return err
}

func (s *SQLiteStore) PriceHistory(ctx context.Context, id int64) ([]models.PriceObservation, error) {
	var history []models.PriceObservation
	err := s.WithConnection(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT id, product_id, price, observed_at FROM price_history
			WHERE product_id = ? ORDER BY observed_at, id`, id)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var obs models.PriceObservation
			if err := rows.Scan(&obs.ID, &obs.ProductID, &obs.Price, &obs.ObservedAt); err != nil {
				return err
			}
			history = append(history, obs)
		}
		return rows.Err()
	})
	return history, err
}

// =============================================================================
// Fleet runs
// =============================================================================

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.FleetRun) error {
	_, err := s.exec(ctx, `
		INSERT INTO fleet_runs (id, started_at, status, products_total)
		VALUES (?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.Status, run.ProductsTotal)
	return err
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.FleetRun) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	_, err := s.exec(ctx, `
		UPDATE fleet_runs SET finished_at = ?, status = ?, products_total = ?,
			products_updated = ?, products_unavailable = ?, products_failed = ?
		WHERE id = ?`,
		finished, run.Status, run.ProductsTotal, run.ProductsUpdated,
		run.ProductsUnavailable, run.ProductsFailed, run.ID)
	return err
}

func (s *SQLiteStore) LatestRun(ctx context.Context) (*models.FleetRun, error) {
	var run models.FleetRun
	err := s.WithConnection(ctx, func(conn *sql.Conn) error {
		var finished sql.NullTime
		err := conn.QueryRowContext(ctx, `
			SELECT id, started_at, finished_at, status, products_total,
				products_updated, products_unavailable, products_failed
			FROM fleet_runs ORDER BY started_at DESC LIMIT 1`).Scan(
			&run.ID, &run.StartedAt, &finished, &run.Status, &run.ProductsTotal,
			&run.ProductsUpdated, &run.ProductsUnavailable, &run.ProductsFailed)
		if err != nil {
			return err
		}
		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) Log(ctx context.Context, runID string, level models.LogLevel, message, store string) error {
	_, err := s.exec(ctx, `
		INSERT INTO run_logs (run_id, timestamp, level, message, store)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now().UTC(), level, message, store)
	return err
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params models.CommandParams) (int64, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return 0, err
	}
	result, err := s.exec(ctx, `INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, string(data), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	var cmds []models.Command
	err := s.WithConnection(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT id, command, params, created_at, processed_at
			FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var cmd models.Command
			var params sql.NullString
			var processed sql.NullTime
			if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &processed); err != nil {
				return err
			}
			if params.Valid {
				cmd.Params = json.RawMessage(params.String)
			}
			if processed.Valid {
				cmd.ProcessedAt = &processed.Time
			}
			cmds = append(cmds, cmd)
		}
		return rows.Err()
	})
	return cmds, err
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}
