package storage

import (
	"context"
	"errors"

	"price_tracker/models"
)

var (
	ErrDuplicateURL    = errors.New("product url already tracked")
	ErrProductNotFound = errors.New("product not found")
	ErrPoolExhausted   = errors.New("connection pool exhausted")
)

// Store is the persistence surface shared by the SQLite and Postgres backends.
// Every call goes through the backend's bounded connection pool.
type Store interface {
	SetupSchema(ctx context.Context) error
	Close() error

	AddProduct(ctx context.Context, url string, store models.StoreID, target *float64) (int64, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	ListProductSummaries(ctx context.Context) ([]models.ProductSummary, error)
	CountProducts(ctx context.Context) (int, error)
	SetTargetPrice(ctx context.Context, id int64, target *float64) error
	DeleteProduct(ctx context.Context, id int64) error

	RecordObservation(ctx context.Context, id int64, obs models.Observation) error
	UpdateAvailability(ctx context.Context, id int64, status models.Availability) error
	GetPriceState(ctx context.Context, id int64) (*models.PriceState, error)
	SetInitialPrice(ctx context.Context, id int64, price float64) error
	SetLowestPrice(ctx context.Context, id int64, price float64) error
	MarkTargetNotified(ctx context.Context, id int64) error
	PriceHistory(ctx context.Context, id int64) ([]models.PriceObservation, error)

	CreateRun(ctx context.Context, run *models.FleetRun) error
	UpdateRun(ctx context.Context, run *models.FleetRun) error
	LatestRun(ctx context.Context) (*models.FleetRun, error)
	Log(ctx context.Context, runID string, level models.LogLevel, message, store string) error

	EnqueueCommand(ctx context.Context, cmd models.CommandType, params models.CommandParams) (int64, error)
	GetPendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
