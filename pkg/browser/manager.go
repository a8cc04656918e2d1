// Package browser owns the single shared headless browser process used by
// the scrape pool. It auto-heals on disconnect and serializes relaunches
// behind a generation counter so callers never race a half-closed browser.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/deepresearch/researchd/pkg/config"
)

// Handle is the live browser plus the generation it was launched under.
// Callers that stash a Handle across an await point should re-fetch via
// Manager.Get rather than trust a cached one past a cancellation point.
type Handle struct {
	Browser    playwright.Browser
	Generation uint64
}

// Manager owns the lifecycle of one shared chromium instance, grounded on
// the ManagedBrowser/BrowserLifecycleManager split: Manager plays both
// roles, since Go has no equivalent need for a separate facade type.
type Manager struct {
	cfg *config.BrowserConfig

	mu            sync.Mutex
	pw            *playwright.Playwright
	browser       playwright.Browser
	generation    uint64
	relaunchCount int
}

// NewManager constructs a Manager. The browser is not launched until Start.
func NewManager(cfg *config.BrowserConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Start launches the browser for the first time.
func (m *Manager) Start(ctx context.Context) error {
	return m.Relaunch(ctx, "startup", true)
}

// Get returns a connected browser, relaunching first if the current one has
// disconnected.
func (m *Manager) Get(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	connected := m.isConnectedLocked()
	browser, gen := m.browser, m.generation
	m.mu.Unlock()

	if connected {
		return Handle{Browser: browser, Generation: gen}, nil
	}
	if err := m.Relaunch(ctx, "health_check", false); err != nil {
		return Handle{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return Handle{Browser: m.browser, Generation: m.generation}, nil
}

// Relaunch closes the current browser (if any) and launches a new one.
// When force is false and the current browser is still connected, Relaunch
// is a no-op.
func (m *Manager) Relaunch(ctx context.Context, reason string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !force && m.isConnectedLocked() {
		return nil
	}

	if m.browser != nil {
		_ = m.browser.Close()
		m.browser = nil
	}

	if m.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return fmt.Errorf("failed to start playwright driver: %w", err)
		}
		m.pw = pw
	}

	newBrowser, err := m.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.cfg.Headless),
	})
	if err != nil {
		return fmt.Errorf("failed to launch chromium: %w", err)
	}

	m.browser = newBrowser
	m.generation++
	if reason != "startup" {
		m.relaunchCount++
	}
	generation := m.generation

	newBrowser.Once("disconnected", func() {
		slog.Warn("browser disconnected", "generation", generation)
	})

	slog.Warn("browser launched", "generation", m.generation, "reason", reason, "relaunch_count", m.relaunchCount)
	return nil
}

// Stop closes the browser and the playwright driver.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	browser, pw := m.browser, m.pw
	m.browser, m.pw = nil, nil
	m.mu.Unlock()

	var firstErr error
	if browser != nil {
		if err := browser.Close(); err != nil {
			firstErr = err
		}
	}
	if pw != nil {
		if err := pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsConnected reports whether the current browser is usable.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isConnectedLocked()
}

func (m *Manager) isConnectedLocked() bool {
	return m.browser != nil && m.browser.IsConnected()
}
