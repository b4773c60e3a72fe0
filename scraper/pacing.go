package scraper

import (
	"context"
	"math/rand"
	"time"
)

// Pacing is the randomized gap between consecutive products of one store.
type Pacing struct {
	Min time.Duration
	Max time.Duration
}

func (p Pacing) Delay() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + time.Duration(rand.Int63n(int64(p.Max-p.Min)+1))
}

// Wait sleeps for one randomized delay or until ctx is done.
func (p Pacing) Wait(ctx context.Context) error {
	timer := time.NewTimer(p.Delay())
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
