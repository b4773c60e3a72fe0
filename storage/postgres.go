package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"price_tracker/models"
)

type PostgresStore struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

func NewPostgresStore(ctx context.Context, connString string, poolSize int, acquireTimeout time.Duration) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if poolSize <= 0 {
		poolSize = 5
	}
	config.MaxConns = int32(poolSize)
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if acquireTimeout <= 0 {
		acquireTimeout = 30 * time.Second
	}
	return &PostgresStore{pool: pool, acquireTimeout: acquireTimeout}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// WithConnection is the pgx counterpart of SQLiteStore.WithConnection.
func (s *PostgresStore) WithConnection(ctx context.Context, fn func(conn *pgxpool.Conn) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	conn, err := s.pool.Acquire(acquireCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrPoolExhausted
		}
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return fn(conn)
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := s.WithConnection(ctx, func(conn *pgxpool.Conn) error {
		var err error
		tag, err = conn.Exec(ctx, query, args...)
		return err
	})
	return tag, err
}

func (s *PostgresStore) SetupSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		name TEXT,
		store TEXT NOT NULL,
		initial_price DOUBLE PRECISION,
		target_price DOUBLE PRECISION,
		target_notified BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'unknown',
		lowest_price DOUBLE PRECISION
	);

	CREATE TABLE IF NOT EXISTS price_history (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		price DOUBLE PRECISION NOT NULL,
		observed_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_price_history_product ON price_history(product_id, observed_at);

	CREATE TABLE IF NOT EXISTS fleet_runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		status TEXT,
		products_total INTEGER DEFAULT 0,
		products_updated INTEGER DEFAULT 0,
		products_unavailable INTEGER DEFAULT 0,
		products_failed INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT,
		timestamp TIMESTAMPTZ,
		level TEXT,
		message TEXT,
		store TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id BIGSERIAL PRIMARY KEY,
		command TEXT,
		params JSONB,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		processed_at TIMESTAMPTZ
	);
	`
	if _, err := s.exec(ctx, schema); err != nil {
		return fmt.Errorf("setup schema: %w", err)
	}
	return nil
}

// =============================================================================
// Products
// =============================================================================

func scanPgProduct(row pgx.Row, extra ...any) (*models.Product, error) {
	var p models.Product
	var store, status string

	dest := []any{&p.ID, &p.URL, &p.Name, &store, &p.InitialPrice, &p.TargetPrice,
		&p.LowestPrice, &status, &p.TargetNotified}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p.Store = models.StoreID(store)
	p.Status = models.ParseAvailability(status)
	return &p, nil
}

func (s *PostgresStore) AddProduct(ctx context.Context, url string, store models.StoreID, target *float64) (int64, error) {
	var id int64
	err := s.WithConnection(ctx, func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, `
			INSERT INTO products (url, store, target_price, target_notified, status)
			VALUES ($1, $2, $3, FALSE, $4) RETURNING id`,
			url, string(store), target, string(models.AvailabilityUnknown)).Scan(&id)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateURL
		}
		return 0, err
	}
	return id, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product *models.Product
	err := s.WithConnection(ctx, func(conn *pgxpool.Conn) error {
		var err error
		product, err = scanPgProduct(conn.QueryRow(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = $1`, id))
		return err
	})
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.WithConnection(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+productColumns+` FROM products p ORDER BY p.id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanPgProduct(rows)
			if err != nil {
				return err
			}
			products = append(products, *p)
		}
		return rows.Err()
	})
	return products, err
}

func (s *PostgresStore) ListProductSummaries(ctx context.Context) ([]models.ProductSummary, error) {
	var summaries []models.ProductSummary
	err := s.WithConnection(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+productColumns+`, h.price, h.observed_at
			FROM products p
			LEFT JOIN LATERAL (
				SELECT price, observed_at FROM price_history
				WHERE product_id = p.id
				ORDER BY observed_at DESC, id DESC LIMIT 1
			) h ON TRUE
			ORDER BY p.id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var summary models.ProductSummary
			p, err := scanPgProduct(rows, &summary.LatestPrice, &summary.LatestAt)
			if err != nil {
				return err
			}
			summary.Product = *p
			summaries = append(summaries, summary)
		}
		return rows.Err()
	})
	return summaries, err
}

func (s *PostgresStore) CountProducts(ctx context.Context) (int, error) {
	var count int
	err := s.WithConnection(ctx, func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&count)
	})
	return count, err
}

func (s *PostgresStore) SetTargetPrice(ctx context.Context, id int64, target *float64) error {
	tag, err := s.exec(ctx, `UPDATE products SET target_price = $1, target_notified = FALSE WHERE id = $2`, target, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := s.exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// =============================================================================
// Observations
// =============================================================================

func (s *PostgresStore) RecordObservation(ctx context.Context, id int64, obs models.Observation) error {
	return s.WithConnection(ctx, func(conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `
			INSERT INTO price_history (product_id, price, observed_at) VALUES ($1, $2, $3)`,
			id, obs.Price, obs.ObservedAt); err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE products SET name = $1 WHERE id = $2`, obs.Title, id); err != nil {
			return fmt.Errorf("update name: %w", err)
		}
		if obs.Availability != models.AvailabilityUnknown {
			if _, err := tx.Exec(ctx, `UPDATE products SET status = $1 WHERE id = $2`, string(obs.Availability), id); err != nil {
				return fmt.Errorf("update status: %w", err)
			}
		}
		return tx.Commit(ctx)
	})
}

func (s *PostgresStore) UpdateAvailability(ctx context.Context, id int64, status models.Availability) error {
	_, err := s.exec(ctx, `UPDATE products SET status = $1 WHERE id = $2`, string(status), id)
	return err
}

func (s *PostgresStore) GetPriceState(ctx context.Context, id int64) (*models.PriceState, error) {
	state := &models.PriceState{}
	err := s.WithConnection(ctx, func(conn *pgxpool.Conn) error {
		err := conn.QueryRow(ctx, `
			SELECT initial_price, target_price, target_notified, lowest_price
			FROM products WHERE id = $1`, id).Scan(
			&state.InitialPrice, &state.TargetPrice, &state.TargetNotified, &state.LowestPrice)
		if err != nil {
			return err
		}

		rows, err := conn.Query(ctx, `
			SELECT price FROM price_history WHERE product_id = $1
			ORDER BY observed_at DESC, id DESC LIMIT 2`, id)
		if err != nil {
			return err
		}
		prices, err := pgx.CollectRows(rows, pgx.RowTo[float64])
		if err != nil {
			return err
		}
		if len(prices) > 0 {
			state.Current = &prices[0]
		}
		if len(prices) > 1 {
			state.Previous = &prices[1]
		}
		return nil
	})
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *PostgresStore) SetInitialPrice(ctx context.Context, id int64, price float64) error {
	_, err := s.exec(ctx, `UPDATE products SET initial_price = $1 WHERE id = $2 AND initial_price IS NULL`, price, id)
	return err
}

func (s *PostgresStore) SetLowestPrice(ctx context.Context, id int64, price float64) error {
	_, err := s.exec(ctx, `
		UPDATE products SET lowest_price = $1
		WHERE id = $2 AND (lowest_price IS NULL OR lowest_price > $1)`, price, id)
	return err
}

func (s *PostgresStore) MarkTargetNotified(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `UPDATE products SET target_notified = TRUE WHERE id = $1 AND target_price IS NOT NULL`, id)
	return err
}

func (s *PostgresStore) PriceHistory(ctx context.Context, id int64) ([]models.PriceObservation, error) {
	var history []models.PriceObservation
	err := s.WithConnection(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, product_id, price, observed_at FROM price_history
			WHERE product_id = $1 ORDER BY observed_at, id`, id)
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

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.FleetRun) error {
	_, err := s.exec(ctx, `
		INSERT INTO fleet_runs (id, started_at, status, products_total)
		VALUES ($1, $2, $3, $4)`,
		run.ID, run.StartedAt, string(run.Status), run.ProductsTotal)
	return err
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.FleetRun) error {
	_, err := s.exec(ctx, `
		UPDATE fleet_runs SET finished_at = $1, status = $2, products_total = $3,
			products_updated = $4, products_unavailable = $5, products_failed = $6
		WHERE id = $7`,
		run.FinishedAt, string(run.Status), run.ProductsTotal, run.ProductsUpdated,
		run.ProductsUnavailable, run.ProductsFailed, run.ID)
	return err
}

func (s *PostgresStore) LatestRun(ctx context.Context) (*models.FleetRun, error) {
	var run models.FleetRun
	var status string
	err := s.WithConnection(ctx, func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, `
			SELECT id, started_at, finished_at, status, products_total,
				products_updated, products_unavailable, products_failed
			FROM fleet_runs ORDER BY started_at DESC LIMIT 1`).Scan(
			&run.ID, &run.StartedAt, &run.FinishedAt, &status, &run.ProductsTotal,
			&run.ProductsUpdated, &run.ProductsUnavailable, &run.ProductsFailed)
	})
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	return &run, nil
}

func (s *PostgresStore) Log(ctx context.Context, runID string, level models.LogLevel, message, store string) error {
	_, err := s.exec(ctx, `
		INSERT INTO run_logs (run_id, timestamp, level, message, store)
		VALUES ($1, $2, $3, $4, $5)`,
		runID, time.Now(), string(level), message, store)
	return err
}

// =============================================================================
// Commands
// =============================================================================

func (s *PostgresStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params models.CommandParams) (int64, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.WithConnection(ctx, func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, `
			INSERT INTO commands (command, params) VALUES ($1, $2) RETURNING id`,
			string(cmd), data).Scan(&id)
	})
	return id, err
}

func (s *PostgresStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	var cmds []models.Command
	err := s.WithConnection(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, command, params, created_at, processed_at
			FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var cmd models.Command
			var command string
			var params []byte
			if err := rows.Scan(&cmd.ID, &command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
				return err
			}
			cmd.Command = models.CommandType(command)
			cmd.Params = json.RawMessage(params)
			cmds = append(cmds, cmd)
		}
		return rows.Err()
	})
	return cmds, err
}

func (s *PostgresStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `UPDATE commands SET processed_at = NOW() WHERE id = $1`, id)
	return err
}
