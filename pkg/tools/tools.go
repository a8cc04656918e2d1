// Package tools implements the three tools the research pipeline's
// reasoning agents call during the outline and content stages: vector_search
// (this session's own store), url_search (scrape one URL), and web_search
// (search, fan out scrapes, stop early once enough documents land).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/deepresearch/researchd/pkg/agent"
	"github.com/deepresearch/researchd/pkg/config"
	"github.com/deepresearch/researchd/pkg/models"
	"github.com/deepresearch/researchd/pkg/pdf"
	"github.com/deepresearch/researchd/pkg/scrape"
)

const (
	toolNameVectorSearch = "vector_search"
	toolNameWebSearch    = "web_search"
	toolNameURLSearch    = "url_search"

	maxWebSearchResults  = 5
	maxWebSearchDocuments = 5
	vectorSearchLimit    = 5

	rollingSummarySystemPrompt = "Summarize the following content without losing any important information while maintaining the flow, order, tone and all the other aspects of the content. Also ensure that important information from the content is also in the summary."
)

// Tools wires the three tool implementations against the session's scrape
// pool, PDF detector, vector store, and search client, and satisfies
// agent.ToolExecutor so a ReasoningAgent can drive it directly.
type Tools struct {
	sessionID string
	depth     config.Depth

	search   SearchClient
	scrape   *scrape.Pool
	pdf      *pdf.Service
	store    VectorStore
	pdfJobs  PdfJobEnqueuer

	llm              agent.LLMClient
	summaryProvider  *config.LLMProviderConfig
	cfg              *config.ToolsConfig
}

// New constructs a Tools instance for one research job's execution.
func New(
	sessionID string,
	depth config.Depth,
	search SearchClient,
	scrapePool *scrape.Pool,
	pdfSvc *pdf.Service,
	store VectorStore,
	pdfJobs PdfJobEnqueuer,
	llm agent.LLMClient,
	summaryProvider *config.LLMProviderConfig,
	cfg *config.ToolsConfig,
) *Tools {
	return &Tools{
		sessionID:       sessionID,
		depth:           depth,
		search:          search,
		scrape:          scrapePool,
		pdf:             pdfSvc,
		store:           store,
		pdfJobs:         pdfJobs,
		llm:             llm,
		summaryProvider: summaryProvider,
		cfg:             cfg,
	}
}

// ListTools returns the fixed tool set every pipeline stage's agent sees.
func (t *Tools) ListTools(_ context.Context) ([]agent.ToolDefinition, error) {
	return []agent.ToolDefinition{
		{
			Name:             toolNameVectorSearch,
			Description:      "Vector Store Search tool to access documents from the vector store based on the given search query",
			ParametersSchema: `{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`,
		},
		{
			Name:             toolNameWebSearch,
			Description:      "Web Search tool to access documents from the web based on the given search query",
			ParametersSchema: `{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`,
		},
		{
			Name:             toolNameURLSearch,
			Description:      "URL Search tool to access documents from the web based on the given URL",
			ParametersSchema: `{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`,
		},
	}, nil
}

// Close releases no resources of its own; the scrape pool and database
// handles it was constructed with outlive a single Tools instance.
func (t *Tools) Close() error { return nil }

// Execute dispatches a model-requested tool call to the matching
// implementation, decoding its JSON arguments.
func (t *Tools) Execute(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	var args map[string]string
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return &agent.ToolResult{CallID: call.ID, Name: call.Name, Content: fmt.Sprintf("An error occured: invalid tool arguments: %v", err), IsError: true}, nil
		}
	}

	var content string
	switch call.Name {
	case toolNameVectorSearch:
		content = t.vectorSearch(ctx, args["query"])
	case toolNameWebSearch:
		content = t.webSearch(ctx, args["query"])
	case toolNameURLSearch:
		content = t.urlSearch(ctx, args["url"])
	default:
		return &agent.ToolResult{CallID: call.ID, Name: call.Name, Content: fmt.Sprintf("unknown tool %q", call.Name), IsError: true}, nil
	}
	return &agent.ToolResult{CallID: call.ID, Name: call.Name, Content: content}, nil
}

// vectorSearch reads this session's own stored documents.
func (t *Tools) vectorSearch(ctx context.Context, query string) string {
	docs, err := t.store.Search(ctx, t.sessionID, query, vectorSearchLimit)
	if err != nil {
		return fmt.Sprintf("An error occured: %v", err)
	}
	if len(docs) == 0 {
		return "No relevant documents found in the vector store."
	}
	rows := make([]string, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, renderDocumentRow(docMetaValue(doc.Title), doc.Content, docMetaValue(doc.Source)))
	}
	return strings.Join(rows, "\n----------------\n")
}

// urlSearch scrapes exactly one caller-supplied URL.
func (t *Tools) urlSearch(ctx context.Context, rawURL string) string {
	scrapeCtx, cancel := context.WithTimeout(ctx, t.cfg.ScrapeTimeout)
	defer cancel()

	doc, err := t.scrape.Scrape(scrapeCtx, rawURL, "")
	if err != nil {
		if scrapeCtx.Err() != nil {
			t.enqueuePdfFallbackIfNeeded(context.WithoutCancel(ctx), rawURL, "", models.PdfReasonURLToolTimeout, false)
			return "No content found at the provided URL."
		}
		return fmt.Sprintf("An error occured: %v", err)
	}
	if doc == nil || strings.TrimSpace(doc.Content) == "" {
		return "No content found at the provided URL."
	}

	if err := t.store.AddDocuments(ctx, t.sessionID, []models.VectorDocument{*doc}); err != nil {
		return fmt.Sprintf("An error occured: %v", err)
	}
	return renderDocumentRow(docMetaValue(doc.Title), doc.Content, docMetaValue(doc.Source))
}

// webSearch runs the full search -> fan-out-scrape -> early-stop -> render
// pipeline, bounded by the tool's total wall-clock timeout.
func (t *Tools) webSearch(ctx context.Context, query string) string {
	totalCtx, cancel := context.WithTimeout(ctx, t.cfg.WebSearchTotalTimeout)
	defer cancel()

	tracker := &partialTracker{}
	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		out, err := t.webSearchImpl(totalCtx, query, tracker)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- out
	}()

	select {
	case out := <-resultCh:
		return out
	case err := <-errCh:
		return fmt.Sprintf("An error occured: %v", err)
	case <-totalCtx.Done():
		docs, persisted := tracker.snapshot()
		if len(docs) == 0 {
			return "An error occured: web search tool timed out, you can try again with a different query."
		}
		if !persisted {
			// Use the caller's original context, not the timed-out one, so
			// this best-effort persist is not immediately cancelled too.
			_ = t.store.AddDocuments(context.WithoutCancel(ctx), t.sessionID, docs)
		}
		partialOutput := renderWebDocuments(docs, nil)
		return fmt.Sprintf("%s\n\n[Note: web search timed out before full completion. Returning partial results.]", partialOutput)
	}
}

type scrapeOutcome struct {
	doc *models.VectorDocument
	err error
}

// webSearchImpl implements the FIRST_COMPLETED fan-out: scrape every search
// result concurrently, consume completions as they arrive against a single
// deadline, and stop as soon as either max_documents or the depth-scaled
// early-stop threshold is reached.
func (t *Tools) webSearchImpl(ctx context.Context, query string, tracker *partialTracker) (string, error) {
	urls, err := t.search.Search(ctx, query, maxWebSearchResults)
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "No search results found.", nil
	}

	scrapeCtx, cancelScrapes := context.WithCancel(ctx)
	defer cancelScrapes()

	outcomes := make(chan scrapeOutcome, len(urls))
	var wg sync.WaitGroup
	for u, title := range urls {
		wg.Add(1)
		go func(u, title string) {
			defer wg.Done()
			doc, err := t.scrapeWithTimeout(scrapeCtx, u, title)
			outcomes <- scrapeOutcome{doc: doc, err: err}
		}(u, title)
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	minDocumentsBeforeStop := t.depth.MinDocumentsBeforeStop()
	deadline := time.Now().Add(t.cfg.ScrapeTimeout)

	var documents []models.VectorDocument
	seenSources := map[string]bool{}

drain:
	for len(documents) < maxWebSearchDocuments {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		timer := time.NewTimer(remaining)
		select {
		case outcome, ok := <-outcomes:
			timer.Stop()
			if !ok {
				break drain
			}
			if outcome.err != nil || outcome.doc == nil || strings.TrimSpace(outcome.doc.Content) == "" {
				continue
			}
			if seenSources[outcome.doc.Source] {
				continue
			}
			seenSources[outcome.doc.Source] = true
			documents = append(documents, *outcome.doc)
			tracker.add(*outcome.doc)
		case <-timer.C:
			break drain
		case <-ctx.Done():
			timer.Stop()
			break drain
		}
		if len(documents) >= minDocumentsBeforeStop {
			break
		}
	}
	cancelScrapes()

	if len(documents) == 0 {
		return "Search results were found, but no scrapeable page content was extracted.", nil
	}

	if err := t.store.AddDocuments(ctx, t.sessionID, documents); err != nil {
		return "", err
	}
	tracker.markPersisted()
	return renderWebDocuments(documents, t.summarize), nil
}

// scrapeWithTimeout bounds a single scrape attempt, queuing a PDF
// background-job fallback if the timeout fires on a detected PDF.
func (t *Tools) scrapeWithTimeout(ctx context.Context, url, title string) (*models.VectorDocument, error) {
	scrapeCtx, cancel := context.WithTimeout(ctx, t.cfg.ScrapeTimeout)
	defer cancel()

	doc, err := t.scrape.Scrape(scrapeCtx, url, title)
	if err != nil {
		if scrapeCtx.Err() != nil {
			t.enqueuePdfFallbackIfNeeded(context.WithoutCancel(ctx), url, title, models.PdfReasonScrapeTimeout, false)
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

func (t *Tools) enqueuePdfFallbackIfNeeded(ctx context.Context, url, title string, reason models.PdfEnqueueReason, partialTextAvailable bool) {
	if t.pdf == nil || t.pdfJobs == nil {
		return
	}
	isPDF, err := t.pdf.IsPDFURL(ctx, url)
	if err != nil || !isPDF {
		return
	}
	_ = t.pdfJobs.EnqueueBackgroundJob(ctx, t.sessionID, url, title, reason, partialTextAvailable)
}

// summarize condenses a tool result to a rolling summary once it exceeds
// the configured word-count threshold, falling back to the raw content on
// any generation failure rather than dropping the document.
func (t *Tools) summarize(ctx context.Context, content string) string {
	if len(strings.Fields(content)) < t.cfg.RollingSummaryWordThreshold {
		return content
	}
	if t.llm == nil || t.summaryProvider == nil {
		return content
	}

	input := &agent.GenerateInput{
		SessionID: t.sessionID,
		Config:    t.summaryProvider,
		Messages: []agent.ConversationMessage{
			{Role: agent.RoleSystem, Content: rollingSummarySystemPrompt},
			{Role: agent.RoleUser, Content: "Generate a proper detailed summary for the following:" + content},
		},
	}
	chunks, err := t.llm.Generate(ctx, input)
	if err != nil {
		return content
	}

	var text strings.Builder
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *agent.TextChunk:
			text.WriteString(c.Content)
		case *agent.ErrorChunk:
			return content
		}
	}
	summary := strings.TrimSpace(text.String())
	if summary == "" {
		return content
	}
	return summary
}

// renderWebDocuments joins each document's rendered row, optionally
// condensing long bodies via summarize first. summarize may be nil, in
// which case raw content is rendered unconditionally (the partial-results
// path never summarizes, matching the original's summarize=False branch).
func renderWebDocuments(documents []models.VectorDocument, summarize func(context.Context, string) string) string {
	if len(documents) == 0 {
		return "Search results were found, but no scrapeable page content was extracted."
	}

	bodies := make([]string, len(documents))
	if summarize != nil {
		var wg sync.WaitGroup
		for i, doc := range documents {
			wg.Add(1)
			go func(i int, content string) {
				defer wg.Done()
				bodies[i] = summarize(context.Background(), content)
			}(i, doc.Content)
		}
		wg.Wait()
	} else {
		for i, doc := range documents {
			bodies[i] = doc.Content
		}
	}

	var rows []string
	for i, doc := range documents {
		body := strings.TrimSpace(bodies[i])
		if body == "" {
			continue
		}
		rows = append(rows, renderDocumentRow(docMetaValue(doc.Title), body, docMetaValue(doc.Source)))
	}
	if len(rows) == 0 {
		return "Search results were found, but no scrapeable page content was extracted."
	}
	return strings.Join(rows, "\n----------------\n")
}

func renderDocumentRow(title, content, source string) string {
	return fmt.Sprintf("Title: %s\nContent:%s\nSource: %s", title, content, source)
}

// docMetaValue mirrors the original's default-to-"None" rendering for an
// absent title/source field.
func docMetaValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "None"
	}
	return value
}

// partialTracker accumulates documents scraped so far and whether they've
// already been persisted, safe for concurrent use by the fan-out goroutine
// and the total-timeout watcher racing to read it.
type partialTracker struct {
	mu        sync.Mutex
	docs      []models.VectorDocument
	persisted bool
}

func (p *partialTracker) add(doc models.VectorDocument) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs = append(p.docs, doc)
}

func (p *partialTracker) markPersisted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persisted = true
}

func (p *partialTracker) snapshot() ([]models.VectorDocument, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.VectorDocument, len(p.docs))
	copy(out, p.docs)
	return out, p.persisted
}

var _ agent.ToolExecutor = (*Tools)(nil)
