package scraper

import (
	"errors"
	"testing"
	"time"

	"price_tracker/config"
	"price_tracker/models"
)

func TestRegistry_PlaceholdersAreDistinct(t *testing.T) {
	r := NewRegistry()

	for _, store := range models.KnownStores {
		if _, err := r.Lookup(store); !errors.Is(err, ErrNotImplemented) {
			t.Fatalf("%s: expected ErrNotImplemented, got %v", store, err)
		}
	}

	if _, err := r.Lookup(models.StoreID("Amazon")); !errors.Is(err, ErrNoExtractor) {
		t.Fatalf("expected ErrNoExtractor for unknown store, got %v", err)
	}

	r.Register(newScriptedExtractor(models.StoreRipley))
	e, err := r.Lookup(models.StoreRipley)
	if err != nil {
		t.Fatalf("registered store lookup failed: %v", err)
	}
	if e.Store() != models.StoreRipley {
		t.Fatalf("unexpected extractor store %s", e.Store())
	}
}

func TestNewRegistryFromConfig_ShippedStores(t *testing.T) {
	stores, err := config.LoadStoreConfigs("../config/stores")
	if err != nil {
		t.Fatalf("load store configs: %v", err)
	}

	r, err := NewRegistryFromConfig(stores, 10*time.Second)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	for _, store := range []models.StoreID{models.StoreMercadoLibre, models.StoreLaCuracao} {
		if _, err := r.Lookup(store); err != nil {
			t.Fatalf("%s should have an extractor: %v", store, err)
		}
	}
	for _, store := range []models.StoreID{models.StoreFalabella, models.StoreRipley} {
		if _, err := r.Lookup(store); !errors.Is(err, ErrNotImplemented) {
			t.Fatalf("%s should be a placeholder, got %v", store, err)
		}
	}
}

func TestNewRegistryFromConfig_Rejects(t *testing.T) {
	_, err := NewRegistryFromConfig(map[string]*config.StoreConfig{
		"Amazon": {ID: "Amazon", Handler: "selector"},
	}, time.Second)
	if err == nil {
		t.Fatalf("expected error for store outside the known set")
	}

	_, err = NewRegistryFromConfig(map[string]*config.StoreConfig{
		"Ripley": {ID: "Ripley", Handler: "magic"},
	}, time.Second)
	if err == nil {
		t.Fatalf("expected error for unknown handler")
	}
}
