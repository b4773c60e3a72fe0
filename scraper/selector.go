package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"price_tracker/config"
	"price_tracker/models"
)

var (
	nonDigitRegex   = regexp.MustCompile(`[^\d]`)
	nonDecimalRegex = regexp.MustCompile(`[^\d.]`)
)

// SelectorExtractor reads a product page with CSS selectors from a store definition.
type SelectorExtractor struct {
	store        models.StoreID
	cfg          *config.StoreConfig
	readyTimeout time.Duration
}

func NewSelectorExtractor(store models.StoreID, cfg *config.StoreConfig, defaultReady time.Duration) *SelectorExtractor {
	ready := defaultReady
	if cfg.ReadyTimeoutMS > 0 {
		ready = time.Duration(cfg.ReadyTimeoutMS) * time.Millisecond
	}
	return &SelectorExtractor{store: store, cfg: cfg, readyTimeout: ready}
}

func (e *SelectorExtractor) Store() models.StoreID {
	return e.store
}

func (e *SelectorExtractor) Extract(ctx context.Context, page Page) (Extraction, error) {
	if e.cfg.ReadySelector != "" {
		if err := page.WaitForSelector(ctx, e.cfg.ReadySelector, e.readyTimeout); err != nil {
			return Extraction{}, fmt.Errorf("%w: waiting for %s: %v", ErrPageTimeout, e.cfg.ReadySelector, err)
		}
	}

	html, err := page.Content(ctx)
	if err != nil {
		return Extraction{}, fmt.Errorf("read page content: %w", err)
	}

	return e.parse(html)
}

func (e *SelectorExtractor) parse(html string) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Extraction{}, fmt.Errorf("parse html: %w", err)
	}

	return Extraction{
		Title:        e.findTitle(doc),
		Price:        e.findPrice(doc),
		Availability: e.findAvailability(doc),
	}, nil
}

func (e *SelectorExtractor) findTitle(doc *goquery.Document) string {
	for _, sel := range e.cfg.Title {
		if title := strings.TrimSpace(doc.Find(sel).First().Text()); title != "" {
			return title
		}
	}
	return ""
}

func (e *SelectorExtractor) findPrice(doc *goquery.Document) float64 {
	for _, rule := range e.cfg.Price {
		node := doc.Find(rule.Selector).First()
		if node.Length() == 0 {
			continue
		}

		raw := strings.TrimSpace(node.Text())
		if rule.Attr != "" {
			raw, _ = node.Attr(rule.Attr)
		}

		if price := parsePrice(raw, rule.Format); price > 0 {
			return price
		}
	}
	return 0
}

func (e *SelectorExtractor) findAvailability(doc *goquery.Document) models.Availability {
	rule := e.cfg.Availability
	if rule == nil {
		return models.AvailabilityUnknown
	}

	want := strings.ToLower(rule.Contains)
	found := false
	doc.Find(rule.Selector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if want == "" || strings.Contains(strings.ToLower(s.Text()), want) {
			found = true
			return false
		}
		return true
	})

	if found {
		return models.AvailabilityAvailable
	}
	return models.ParseAvailability(rule.Default)
}

// parsePrice handles "digits" (thousands separators, no cents: "1.299" -> 1299)
// and "decimal" ("2949.00" -> 2949).
func parsePrice(raw, format string) float64 {
	var cleaned string
	switch format {
	case "decimal":
		cleaned = nonDecimalRegex.ReplaceAllString(raw, "")
	default:
		cleaned = nonDigitRegex.ReplaceAllString(raw, "")
	}
	if cleaned == "" {
		return 0
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}
