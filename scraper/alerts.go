package scraper

import (
	"context"
	"fmt"
	"strings"

	"price_tracker/metrics"
	"price_tracker/models"
)

// checkPrice runs after a saved observation: it fills the baseline, lowers the
// running minimum and decides between a target alert and a drop alert. A
// target hit suppresses the drop alert for the same observation.
func (o *Orchestrator) checkPrice(ctx context.Context, runID string, product *models.Product, result Extraction) {
	state, err := o.store.GetPriceState(ctx, product.ID)
	if err != nil || state == nil || state.Current == nil {
		o.log(runID, models.LogLevelError, fmt.Sprintf("Product %d: reading price state: %v", product.ID, err), product.Store)
		return
	}
	current := *state.Current

	if state.InitialPrice == nil {
		if err := o.store.SetInitialPrice(ctx, product.ID, current); err != nil {
			o.log(runID, models.LogLevelError, fmt.Sprintf("Product %d: setting initial price: %v", product.ID, err), product.Store)
		}
	}

	lowest := current
	if state.LowestPrice != nil && *state.LowestPrice <= current {
		lowest = *state.LowestPrice
	} else if err := o.store.SetLowestPrice(ctx, product.ID, current); err != nil {
		o.log(runID, models.LogLevelError, fmt.Sprintf("Product %d: setting lowest price: %v", product.ID, err), product.Store)
	}

	alert := priceAlert{
		Name:     result.Title,
		URL:      product.URL,
		Status:   result.Availability,
		Current:  current,
		Lowest:   lowest,
		Currency: o.currency,
	}

	if state.TargetPrice != nil && current <= *state.TargetPrice {
		if state.TargetNotified {
			return
		}
		if err := o.store.MarkTargetNotified(ctx, product.ID); err != nil {
			o.log(runID, models.LogLevelError, fmt.Sprintf("Product %d: marking target notified: %v", product.ID, err), product.Store)
			return
		}
		alert.Target = *state.TargetPrice
		o.notify(ctx, "target", alert.targetMessage())
		o.log(runID, models.LogLevelInfo, fmt.Sprintf("Product %d: target %.2f reached", product.ID, *state.TargetPrice), product.Store)
		return
	}

	if state.Previous != nil && current < *state.Previous {
		alert.Previous = *state.Previous
		o.notify(ctx, "drop", alert.dropMessage())
		o.log(runID, models.LogLevelInfo, fmt.Sprintf("Product %d: dropped %.2f -> %.2f", product.ID, *state.Previous, current), product.Store)
	}
}

func (o *Orchestrator) notify(ctx context.Context, kind, message string) {
	metrics.Notifications.WithLabelValues(kind).Inc()
	if o.alerts == nil {
		return
	}
	o.alerts.Alert(ctx, message)
}

type priceAlert struct {
	Name     string
	URL      string
	Status   models.Availability
	Current  float64
	Previous float64
	Target   float64
	Lowest   float64
	Currency string
}

func (a priceAlert) targetMessage() string {
	var b strings.Builder
	b.WriteString("🎯 *Target price reached!*\n\n")
	fmt.Fprintf(&b, "*Product:* %s\n", a.Name)
	fmt.Fprintf(&b, "*Status:* %s\n", a.Status)
	fmt.Fprintf(&b, "*Target:* %s %.2f\n", a.Currency, a.Target)
	fmt.Fprintf(&b, "*Current price:* %s %.2f\n", a.Currency, a.Current)
	fmt.Fprintf(&b, "*Lowest recorded:* %s %.2f\n\n", a.Currency, a.Lowest)
	fmt.Fprintf(&b, "[View product](%s)", a.URL)
	return b.String()
}

func (a priceAlert) dropMessage() string {
	var b strings.Builder
	b.WriteString("📉 *Price drop!*\n\n")
	fmt.Fprintf(&b, "*Product:* %s\n", a.Name)
	fmt.Fprintf(&b, "*Before:* %s %.2f\n", a.Currency, a.Previous)
	fmt.Fprintf(&b, "*Now:* %s %.2f\n", a.Currency, a.Current)
	fmt.Fprintf(&b, "*Lowest recorded:* %s %.2f\n\n", a.Currency, a.Lowest)
	fmt.Fprintf(&b, "[View product](%s)", a.URL)
	return b.String()
}
