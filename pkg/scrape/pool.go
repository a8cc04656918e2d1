// Package scrape turns a URL into extracted page text via a pooled,
// self-healing Playwright browser context. One context ("slot") is kept
// active at a time and shared across concurrent scrape calls by reference
// count; a slot is retired, never reused, once its context reports closed.
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"github.com/deepresearch/researchd/pkg/browser"
	"github.com/deepresearch/researchd/pkg/config"
	"github.com/deepresearch/researchd/pkg/models"
	"github.com/deepresearch/researchd/pkg/pdf"
)

// slot is the Go shape of the original's _ContextSlot: one live browser
// context plus the bookkeeping needed to retire it safely under concurrent
// in-flight pages.
type slot struct {
	id       int
	context  playwright.BrowserContext
	refCount int
	retired  bool
}

// Pool owns zero-or-one active browser context, handing out references to
// concurrent scrape calls and retiring the context on any closed/disconnect
// signal instead of attempting to repair it in place.
type Pool struct {
	manager *browser.Manager
	pdf     *pdf.Service
	cfg     *config.ScrapeConfig

	mu           sync.Mutex
	slots        map[int]*slot
	activeSlotID int
	nextSlotID   int
}

// NewPool constructs a Pool. pdfSvc may be nil if PDF detection is handled
// upstream of Scrape.
func NewPool(manager *browser.Manager, pdfSvc *pdf.Service, cfg *config.ScrapeConfig) *Pool {
	return &Pool{
		manager:    manager,
		pdf:        pdfSvc,
		cfg:        cfg,
		slots:      make(map[int]*slot),
		nextSlotID: 1,
	}
}

// Scrape fetches url, renders it, and returns its extracted title and text.
// It returns (nil, nil) — not an error — for pages whose extracted text
// falls below the minimum-content threshold, mirroring the original's
// "nothing usable here" sentinel.
func (p *Pool) Scrape(ctx context.Context, url, hintTitle string) (*models.VectorDocument, error) {
	if p.pdf != nil {
		isPDF, err := p.pdf.IsPDFURL(ctx, url)
		if err == nil && isPDF {
			res, err := p.pdf.ExtractInMemory(ctx, url, hintTitle)
			if err != nil {
				return nil, err
			}
			if res == nil {
				return nil, nil
			}
			return &models.VectorDocument{Source: url, Title: res.Title, Content: res.Text}, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		page, slotID, err := p.newPage(ctx)
		if err != nil {
			return nil, err
		}

		doc, retryable, err := p.scrapeOnce(ctx, page, slotID, url, hintTitle)
		p.releaseSlotReference(slotID)

		if err == nil {
			return doc, nil
		}
		if attempt == 0 && retryable {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

func (p *Pool) scrapeOnce(ctx context.Context, page playwright.Page, slotID int, url, hintTitle string) (*models.VectorDocument, bool, error) {
	defer func() {
		if !page.IsClosed() {
			_ = page.Close()
		}
	}()

	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		msg := err.Error()
		if isContextClosedError(msg) {
			p.retireSlot(slotID, "scrape_context_closed_during_navigation")
			if isBrowserDisconnectError(msg) {
				_ = p.manager.Relaunch(ctx, "scrape_navigation_browser_disconnected", true)
			}
			return nil, true, err
		}
		return nil, false, fmt.Errorf("navigate %s: %w", url, err)
	}

	if _, err := page.WaitForSelector("body", playwright.PageWaitForSelectorOptions{}); err != nil {
		return nil, false, fmt.Errorf("wait for body %s: %w", url, err)
	}

	pageTitle, _ := page.Title()
	html, err := page.Content()
	if err != nil {
		return nil, false, fmt.Errorf("read content %s: %w", url, err)
	}

	title, text, err := extractTextAndTitle(html, url, hintTitle, pageTitle)
	if err != nil {
		return nil, false, err
	}
	if len(text) < p.cfg.MinContentChars {
		return nil, false, nil
	}
	return &models.VectorDocument{Source: url, Title: title, Content: title + "\n\n" + text}, false, nil
}

func extractTextAndTitle(html, url, providedTitle, pageTitle string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	var lines []string
	doc.Find("body").Contents().Each(func(_ int, s *goquery.Selection) {
		collectText(s, &lines)
	})
	text := strings.Join(lines, "\n")

	docTitle := strings.TrimSpace(doc.Find("title").First().Text())
	resolved := firstNonEmpty(providedTitle, pageTitle, docTitle, url)
	return resolved, text, nil
}

func collectText(s *goquery.Selection, lines *[]string) {
	if s.Is("script,style,noscript") {
		return
	}
	text := strings.TrimSpace(s.Text())
	if text != "" {
		*lines = append(*lines, text)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (p *Pool) newPage(ctx context.Context) (playwright.Page, int, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		s, err := p.acquireActiveSlot(ctx)
		if err != nil {
			return nil, 0, err
		}

		page, err := s.context.NewPage()
		if err == nil {
			return page, s.id, nil
		}

		p.releaseSlotReference(s.id)
		msg := err.Error()
		if !isContextClosedError(msg) {
			return nil, 0, err
		}

		p.retireSlot(s.id, "new_page_context_closed")
		if isBrowserDisconnectError(msg) {
			_ = p.manager.Relaunch(ctx, "new_page_browser_disconnected", true)
		}
		lastErr = err
	}
	return nil, 0, lastErr
}

func (p *Pool) acquireActiveSlot(ctx context.Context) (*slot, error) {
	for {
		s, err := p.getOrCreateActiveSlot(ctx)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		current, ok := p.slots[s.id]
		if !ok || current.retired {
			p.mu.Unlock()
			continue
		}
		current.refCount++
		p.mu.Unlock()
		return current, nil
	}
}

func (p *Pool) getOrCreateActiveSlot(ctx context.Context) (*slot, error) {
	p.mu.Lock()
	if existing := p.activeSlotUnlocked(); existing != nil {
		p.mu.Unlock()
		return existing, nil
	}
	p.mu.Unlock()

	newContext, err := p.createContext(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing := p.activeSlotUnlocked(); existing != nil {
		_ = newContext.Close()
		return existing, nil
	}

	id := p.nextSlotID
	p.nextSlotID++
	created := &slot{id: id, context: newContext}
	p.slots[id] = created
	p.activeSlotID = id
	return created, nil
}

// activeSlotUnlocked must be called with mu held.
func (p *Pool) activeSlotUnlocked() *slot {
	if p.activeSlotID == 0 {
		return nil
	}
	s, ok := p.slots[p.activeSlotID]
	if !ok || s.retired {
		p.activeSlotID = 0
		return nil
	}
	return s
}

func (p *Pool) createContext(ctx context.Context) (playwright.BrowserContext, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		handle, err := p.manager.Get(ctx)
		if err != nil {
			return nil, err
		}

		bctx, err := handle.Browser.NewContext(playwright.BrowserNewContextOptions{
			Viewport:          &playwright.Size{Width: 1280, Height: 720},
			UserAgent:         playwright.String(p.cfg.UserAgent),
			BypassCSP:         playwright.Bool(true),
			IgnoreHttpsErrors: playwright.Bool(true),
		})
		if err != nil {
			if attempt == 0 && isBrowserDisconnectError(err.Error()) {
				_ = p.manager.Relaunch(ctx, "scrape_new_context_disconnected", true)
				lastErr = err
				continue
			}
			return nil, err
		}

		if err := p.configureContext(bctx); err != nil {
			_ = bctx.Close()
			return nil, err
		}
		return bctx, nil
	}
	return nil, fmt.Errorf("failed to create scrape browser context: %w", lastErr)
}

func (p *Pool) configureContext(bctx playwright.BrowserContext) error {
	return bctx.Route("**/*", func(route playwright.Route) {
		switch route.Request().ResourceType() {
		case "image", "media", "font", "stylesheet", "other":
			_ = route.Abort()
		default:
			_ = route.Continue()
		}
	})
}

func (p *Pool) releaseSlotReference(slotID int) {
	if slotID <= 0 {
		return
	}
	var toClose playwright.BrowserContext

	p.mu.Lock()
	s, ok := p.slots[slotID]
	if ok {
		if s.refCount > 0 {
			s.refCount--
		}
		if s.retired && s.refCount == 0 {
			delete(p.slots, slotID)
			toClose = s.context
		}
	}
	p.mu.Unlock()

	if toClose != nil {
		_ = toClose.Close()
	}
}

func (p *Pool) retireSlot(slotID int, reason string) {
	if slotID <= 0 {
		return
	}
	var toClose playwright.BrowserContext

	p.mu.Lock()
	s, ok := p.slots[slotID]
	if ok {
		s.retired = true
		if p.activeSlotID == slotID {
			p.activeSlotID = 0
		}
		slog.Warn("retiring scrape context", "slot", slotID, "reason", reason, "in_flight", s.refCount)
		if s.refCount == 0 {
			delete(p.slots, slotID)
			toClose = s.context
		}
	}
	p.mu.Unlock()

	if toClose != nil {
		_ = toClose.Close()
	}
}

func isBrowserDisconnectError(message string) bool {
	lowered := strings.ToLower(message)
	for _, phrase := range []string{
		"browser has been closed", "browser closed", "connection closed",
		"is not connected", "browser is disconnected", "target closed",
	} {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

func isContextClosedError(message string) bool {
	lowered := strings.ToLower(message)
	for _, phrase := range []string{
		"target page, context or browser has been closed", "context has been closed",
		"target page", "closed",
	} {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
