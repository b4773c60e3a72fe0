package scraper

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"price_tracker/config"
)

// Session is one isolated browser for a unit of work. Close is safe to call
// more than once; only the first call tears anything down.
type Session interface {
	Page
	Close() error
}

type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// driverMu serializes driver provisioning across store workers; concurrent
// installs corrupt the shared driver directory.
var (
	driverMu    sync.Mutex
	driverReady bool
)

type BrowserManager struct {
	cfg     config.ScraperConfig
	install func(opts ...*playwright.RunOptions) error
}

func NewBrowserManager(cfg config.ScraperConfig) *BrowserManager {
	return &BrowserManager{cfg: cfg, install: playwright.Install}
}

func (m *BrowserManager) ensureDriver() error {
	driverMu.Lock()
	defer driverMu.Unlock()

	if driverReady {
		return nil
	}

	opts := &playwright.RunOptions{Browsers: []string{"chromium"}}
	err := m.install(opts)
	if err != nil {
		log.Printf("Driver install failed, retrying in %s: %v", m.cfg.DriverRetryDelay, err)
		time.Sleep(m.cfg.DriverRetryDelay)
		err = m.install(opts)
	}
	if err != nil {
		return fmt.Errorf("install playwright driver: %w", err)
	}

	driverReady = true
	return nil
}

// NewSession launches a headless chromium with the configured user agent
// and proxy.
// Anything launched before a failure is torn down before returning.
func (m *BrowserManager) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.ensureDriver(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-blink-features=AutomationControlled",
		},
	}
	if m.cfg.ProxyURL != "" {
		launch.Proxy = &playwright.Proxy{Server: m.cfg.ProxyURL}
	}

	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(m.cfg.UserAgent),
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return &browserSession{
		pw:                pw,
		browser:           browser,
		context:           bctx,
		page:              page,
		navigationTimeout: m.cfg.NavigationTimeout,
	}, nil
}

type browserSession struct {
	pw                *playwright.Playwright
	browser           playwright.Browser
	context           playwright.BrowserContext
	page              playwright.Page
	navigationTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (s *browserSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(s.navigationTimeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *browserSession) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}

func (s *browserSession) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.page.Content()
}

func (s *browserSession) Close() error {
	s.closeOnce.Do(func() {
		if s.page != nil {
			s.page.Close()
		}
		if s.context != nil {
			s.context.Close()
		}
		if s.browser != nil {
			s.browser.Close()
		}
		if s.pw != nil {
			s.closeErr = s.pw.Stop()
		}
	})
	return s.closeErr
}
