package services

import (
	"context"
	"fmt"
	"log"
	"math"

	"price_tracker/identity"
	"price_tracker/models"
	"price_tracker/storage"
)

// Tracker runs a single-product track. Satisfied by scraper.Orchestrator.
type Tracker interface {
	TrackOne(ctx context.Context, id int64) models.Outcome
}

// ValidPrice reports whether v can be stored as a target: finite and above zero.
func ValidPrice(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// ProductService is the write path shared by the CLI and the bot.
type ProductService struct {
	store   storage.Store
	tracker Tracker
}

func NewProductService(store storage.Store, tracker Tracker) *ProductService {
	return &ProductService{store: store, tracker: tracker}
}

// Add validates the URL, detects its store and registers the product with
// default bookkeeping. It does not scrape; call Track for that.
func (s *ProductService) Add(ctx context.Context, rawURL string, target *float64) (*models.Product, error) {
	url, err := identity.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	store, err := identity.DetectStore(url)
	if err != nil {
		return nil, err
	}

	if target != nil && !ValidPrice(*target) {
		return nil, fmt.Errorf("target price must be a positive number, got %v", *target)
	}

	id, err := s.store.AddProduct(ctx, url, store, target)
	if err != nil {
		return nil, err
	}
	log.Printf("Added product %d (%s): %s", id, store, url)

	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload product %d: %w", id, err)
	}
	if product == nil {
		return nil, fmt.Errorf("reload product %d: %w", id, storage.ErrProductNotFound)
	}
	return product, nil
}

func (s *ProductService) Track(ctx context.Context, id int64) models.Outcome {
	return s.tracker.TrackOne(ctx, id)
}

func (s *ProductService) Get(ctx context.Context, id int64) (*models.Product, error) {
	return s.store.GetProduct(ctx, id)
}

func (s *ProductService) List(ctx context.Context) ([]models.ProductSummary, error) {
	return s.store.ListProductSummaries(ctx)
}

func (s *ProductService) Count(ctx context.Context) (int, error) {
	return s.store.CountProducts(ctx)
}

// SetTarget replaces the target price (nil clears it) and re-arms the
// target alert.
func (s *ProductService) SetTarget(ctx context.Context, id int64, target *float64) error {
	if target != nil && !ValidPrice(*target) {
		return fmt.Errorf("target price must be a positive number, got %v", *target)
	}
	return s.store.SetTargetPrice(ctx, id, target)
}

func (s *ProductService) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteProduct(ctx, id)
}
