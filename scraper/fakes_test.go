package scraper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"price_tracker/models"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

// fakePage serves a fixed HTML body and records navigation.
type fakePage struct {
	mu        sync.Mutex
	html      string
	url       string
	visited   []string
	navErr    error
	waitErr   error
	closed    int
	waitedFor []string
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navErr != nil {
		return p.navErr
	}
	p.url = url
	p.visited = append(p.visited, url)
	return nil
}

func (p *fakePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waitedFor = append(p.waitedFor, selector)
	return p.waitErr
}

func (p *fakePage) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePage) currentURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) visits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visited...)
}

// fakeSessions hands out fakePages and remembers every one of them.
type fakeSessions struct {
	mu       sync.Mutex
	sessions []*fakePage
	err      error
	navErr   error
}

func (f *fakeSessions) NewSession(ctx context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakePage{navErr: f.navErr}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeSessions) all() []*fakePage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePage(nil), f.sessions...)
}

// scriptedExtractor returns results per URL, one per call, repeating the last.
type scriptedExtractor struct {
	store models.StoreID

	mu      sync.Mutex
	results map[string][]scripted
	calls   map[string]int
}

type scripted struct {
	extraction Extraction
	err        error
	panicMsg   string
}

func newScriptedExtractor(store models.StoreID) *scriptedExtractor {
	return &scriptedExtractor{
		store:   store,
		results: make(map[string][]scripted),
		calls:   make(map[string]int),
	}
}

func (e *scriptedExtractor) on(url string, steps ...scripted) *scriptedExtractor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[url] = steps
	return e
}

func (e *scriptedExtractor) Store() models.StoreID { return e.store }

func (e *scriptedExtractor) Extract(ctx context.Context, page Page) (Extraction, error) {
	url := page.(*fakePage).currentURL()

	e.mu.Lock()
	steps := e.results[url]
	n := e.calls[url]
	e.calls[url] = n + 1
	e.mu.Unlock()

	if len(steps) == 0 {
		return Extraction{}, errors.New("no scripted result")
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	step := steps[n]
	if step.panicMsg != "" {
		panic(step.panicMsg)
	}
	return step.extraction, step.err
}

func (e *scriptedExtractor) callCount(url string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[url]
}

func found(title string, price float64) scripted {
	return scripted{extraction: Extraction{Title: title, Price: price, Availability: models.AvailabilityAvailable}}
}

// recordingAlerter captures messages synchronously.
type recordingAlerter struct {
	mu       sync.Mutex
	messages []string
}

func (a *recordingAlerter) Alert(ctx context.Context, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, message)
}

func (a *recordingAlerter) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.messages...)
}
