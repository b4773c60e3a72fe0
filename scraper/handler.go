package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"price_tracker/config"
	"price_tracker/models"
)

var (
	ErrNotImplemented = errors.New("extractor not implemented")
	ErrNoExtractor    = errors.New("no extractor registered")
	ErrPageTimeout    = errors.New("page did not load content in time")
)

// Page is the slice of a browser session an extractor is allowed to use.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Content(ctx context.Context) (string, error)
}

// Extraction is what an extractor read off a loaded product page.
// Price is zero when no positive price was found.
type Extraction struct {
	Title        string
	Price        float64
	Availability models.Availability
}

type Extractor interface {
	Store() models.StoreID
	Extract(ctx context.Context, page Page) (Extraction, error)
}

// placeholder marks a known store whose extractor has not been written yet.
type placeholder struct {
	store models.StoreID
}

func (p placeholder) Store() models.StoreID { return p.store }

func (p placeholder) Extract(ctx context.Context, page Page) (Extraction, error) {
	return Extraction{}, fmt.Errorf("%w: %s", ErrNotImplemented, p.store)
}

type Registry struct {
	extractors map[models.StoreID]Extractor
}

// NewRegistry starts every known store out as a placeholder.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[models.StoreID]Extractor)}
	for _, store := range models.KnownStores {
		r.extractors[store] = placeholder{store: store}
	}
	return r
}

func (r *Registry) Register(e Extractor) {
	r.extractors[e.Store()] = e
}

// Lookup returns ErrNotImplemented for placeholder stores and ErrNoExtractor
// for ids outside the known set.
func (r *Registry) Lookup(store models.StoreID) (Extractor, error) {
	e, ok := r.extractors[store]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExtractor, store)
	}
	if _, isPlaceholder := e.(placeholder); isPlaceholder {
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, store)
	}
	return e, nil
}

// NewRegistryFromConfig builds selector extractors for every store definition
// with handler "selector".
func NewRegistryFromConfig(stores map[string]*config.StoreConfig, defaultReady time.Duration) (*Registry, error) {
	r := NewRegistry()
	for id, storeCfg := range stores {
		store := models.StoreID(id)
		if !store.Valid() {
			return nil, fmt.Errorf("unknown store in config: %s", id)
		}

		switch storeCfg.Handler {
		case "selector":
			r.Register(NewSelectorExtractor(store, storeCfg, defaultReady))
		case "placeholder", "":
		default:
			return nil, fmt.Errorf("store %s: unknown handler %q", id, storeCfg.Handler)
		}
	}
	return r, nil
}
