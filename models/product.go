package models

import "time"

type StoreID string

const (
	StoreMercadoLibre StoreID = "MercadoLibre"
	StoreLaCuracao    StoreID = "LaCuracao"
	StoreFalabella    StoreID = "Falabella"
	StoreRipley       StoreID = "Ripley"
)

// KnownStores is the closed set of supported stores, in detection order.
var KnownStores = []StoreID{StoreMercadoLibre, StoreLaCuracao, StoreFalabella, StoreRipley}

func (s StoreID) Valid() bool {
	for _, known := range KnownStores {
		if s == known {
			return true
		}
	}
	return false
}

type Availability string

const (
	AvailabilityUnknown     Availability = "unknown"
	AvailabilityAvailable   Availability = "available"
	AvailabilityUnavailable Availability = "unavailable"
)

func ParseAvailability(s string) Availability {
	switch Availability(s) {
	case AvailabilityAvailable, AvailabilityUnavailable:
		return Availability(s)
	default:
		return AvailabilityUnknown
	}
}

type Product struct {
	ID             int64        `json:"id" db:"id"`
	URL            string       `json:"url" db:"url"`
	Name           *string      `json:"name" db:"name"`
	Store          StoreID      `json:"store" db:"store"`
	InitialPrice   *float64     `json:"initial_price" db:"initial_price"`
	TargetPrice    *float64     `json:"target_price" db:"target_price"`
	LowestPrice    *float64     `json:"lowest_price" db:"lowest_price"`
	Status         Availability `json:"status" db:"status"`
	TargetNotified bool         `json:"target_notified" db:"target_notified"`
}

// DisplayName falls back to the URL until the first successful scrape.
func (p *Product) DisplayName() string {
	if p.Name != nil && *p.Name != "" {
		return *p.Name
	}
	return p.URL
}

// ProductSummary is a product joined with its most recent observation.
type ProductSummary struct {
	Product
	LatestPrice *float64   `json:"latest_price" db:"latest_price"`
	LatestAt    *time.Time `json:"latest_at" db:"latest_at"`
}

type PriceObservation struct {
	ID         int64     `json:"id" db:"id"`
	ProductID  int64     `json:"product_id" db:"product_id"`
	Price      float64   `json:"price" db:"price"`
	ObservedAt time.Time `json:"observed_at" db:"observed_at"`
}

// Observation is what a successful scrape writes back for a product.
type Observation struct {
	Title        string
	Price        float64
	Availability Availability
	ObservedAt   time.Time
}

// PriceState is the bookkeeping read by the notification check.
type PriceState struct {
	InitialPrice   *float64
	TargetPrice    *float64
	LowestPrice    *float64
	TargetNotified bool
	Current        *float64
	Previous       *float64
}

// Outcome is the terminal state of one tracking attempt.
type Outcome string

const (
	OutcomeUpdated     Outcome = "updated"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeFailed      Outcome = "failed"
)
