package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusSkipped   RunStatus = "skipped"
	RunStatusFailed    RunStatus = "failed"
)

type FleetRun struct {
	ID                  string     `json:"id" db:"id"`
	StartedAt           time.Time  `json:"started_at" db:"started_at"`
	FinishedAt          *time.Time `json:"finished_at" db:"finished_at"`
	Status              RunStatus  `json:"status" db:"status"`
	ProductsTotal       int        `json:"products_total" db:"products_total"`
	ProductsUpdated     int        `json:"products_updated" db:"products_updated"`
	ProductsUnavailable int        `json:"products_unavailable" db:"products_unavailable"`
	ProductsFailed      int        `json:"products_failed" db:"products_failed"`
}

func (r *FleetRun) Count(outcome Outcome) {
	switch outcome {
	case OutcomeUpdated:
		r.ProductsUpdated++
	case OutcomeUnavailable:
		r.ProductsUnavailable++
	default:
		r.ProductsFailed++
	}
}
