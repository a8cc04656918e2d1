// Package pdf detects and extracts text from PDF sources reached by URL.
// Detection is a cheap suffix/content-type/ranged-GET probe chain; extraction
// prefers a deadline-bounded streaming primary path and falls back to an
// in-memory parse. This package enqueues nothing: a streaming timeout is
// reported as StatusQueued or StatusPartialTimeout, and the only durable
// background retries are the pdf_jobs rows pkg/tools creates when a scrape
// of a detected PDF times out.
package pdf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	pdfcpuapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/deepresearch/researchd/pkg/config"
)

// Status is the outcome of a single extraction attempt.
type Status string

const (
	StatusComplete      Status = "complete"
	StatusPartialTimeout Status = "partial_timeout"
	StatusQueued        Status = "queued"
	StatusFailed        Status = "failed"
)

// Result is the outcome of one extraction attempt, mirroring the original's
// PdfProcessResult.
type Result struct {
	Status    Status
	Text      string
	Title     string
	Source    string
	Partial   bool
	PageCount int
	Error     string
}

// StreamExtractor is the primary extraction path: a reasoning agent reading
// the PDF via URL context and emitting text incrementally. It is satisfied
// by an adapter over pkg/agent.LLMClient so this package never imports a
// provider SDK directly.
type StreamExtractor interface {
	// ExtractStream emits text chunks read from url until EOF, ctx
	// cancellation, or an error. The caller enforces the deadline via ctx.
	ExtractStream(ctx context.Context, url, title string) (<-chan string, <-chan error)
}

// Service implements PDF detection and dual-path extraction.
type Service struct {
	cfg     *config.PdfConfig
	http    *http.Client
	primary StreamExtractor // nil disables the primary streaming path
}

// NewService constructs a Service. primary may be nil — e.g. for the
// background worker, which only ever runs the in-memory fallback path.
func NewService(cfg *config.PdfConfig, primary StreamExtractor) *Service {
	return &Service{
		cfg:     cfg,
		http:    &http.Client{Timeout: 20 * time.Second},
		primary: primary,
	}
}

// IsPDFURL reports whether url points at a PDF, via suffix check, then a
// HEAD content-type probe, then a ranged-GET content-type probe.
func (s *Service) IsPDFURL(ctx context.Context, url string) (bool, error) {
	lowered := strings.ToLower(strings.TrimSpace(url))
	if lowered == "" {
		return false, nil
	}
	if strings.Contains(lowered, ".pdf") {
		return true, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.HeadProbeTimeout)
	defer cancel()

	if looksPDF, finalURL := s.probeHead(probeCtx, url); looksPDF || strings.Contains(strings.ToLower(finalURL), ".pdf") {
		return true, nil
	}

	rangedCtx, cancel2 := context.WithTimeout(ctx, s.cfg.HeadProbeTimeout)
	defer cancel2()

	if looksPDF, finalURL := s.probeRangedGet(rangedCtx, url); looksPDF || strings.Contains(strings.ToLower(finalURL), ".pdf") {
		return true, nil
	}

	return false, nil
}

func (s *Service) probeHead(ctx context.Context, url string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, ""
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return false, ""
	}
	defer resp.Body.Close()
	return looksLikePDFContentType(resp.Header.Get("Content-Type")), resp.Request.URL.String()
}

func (s *Service) probeRangedGet(ctx context.Context, url string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, ""
	}
	req.Header.Set("Range", "bytes=0-1023")
	resp, err := s.http.Do(req)
	if err != nil {
		return false, ""
	}
	defer resp.Body.Close()
	return looksLikePDFContentType(resp.Header.Get("Content-Type")), resp.Request.URL.String()
}

func looksLikePDFContentType(contentType string) bool {
	return contentType != "" && strings.Contains(strings.ToLower(contentType), "application/pdf")
}

func deriveTitle(url, provided string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return url
}

// ExtractWithStream runs the deadline-bounded primary extraction path,
// merging incoming chunks until the stream ends, the deadline passes, or
// the primary extractor errors. It never returns an error for a timeout —
// a timeout with no usable text yields StatusQueued, with some usable text
// yields StatusPartialTimeout.
func (s *Service) ExtractWithStream(ctx context.Context, url, title string, deadline time.Time) (Result, error) {
	resolvedTitle := deriveTitle(url, title)
	if s.primary == nil {
		return Result{Status: StatusFailed, Title: resolvedTitle, Source: url, Error: "primary extraction is disabled"}, nil
	}

	streamCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	chunks, errs := s.primary.ExtractStream(streamCtx, url, resolvedTitle)

	var accumulated strings.Builder
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				text := strings.TrimSpace(accumulated.String())
				if text == "" {
					return Result{Status: StatusFailed, Title: resolvedTitle, Source: url, Error: "extractor returned no text"}, nil
				}
				return Result{Status: StatusComplete, Text: text, Title: resolvedTitle, Source: url}, nil
			}
			mergeChunk(&accumulated, chunk)
		case err := <-errs:
			if err != nil {
				return Result{Status: StatusFailed, Text: strings.TrimSpace(accumulated.String()), Title: resolvedTitle, Source: url, Error: err.Error()}, nil
			}
		case <-streamCtx.Done():
			text := strings.TrimSpace(accumulated.String())
			if len(text) >= s.cfg.MinPartialChars {
				return Result{Status: StatusPartialTimeout, Text: text, Title: resolvedTitle, Source: url, Partial: true}, nil
			}
			return Result{Status: StatusQueued, Text: text, Title: resolvedTitle, Source: url, Partial: true}, nil
		}
	}
}

// mergeChunk appends incoming to accumulated, collapsing the common
// streaming-API case where a later chunk repeats the whole prefix already
// seen rather than sending a true delta.
func mergeChunk(accumulated *strings.Builder, incoming string) {
	if incoming == "" {
		return
	}
	existing := accumulated.String()
	if existing == "" {
		accumulated.WriteString(incoming)
		return
	}
	if strings.HasPrefix(incoming, existing) {
		accumulated.Reset()
		accumulated.WriteString(incoming)
		return
	}
	if strings.HasSuffix(existing, incoming) {
		return
	}
	accumulated.WriteString(incoming)
}

// ExtractInMemory fetches the PDF fully into memory and parses it with a
// structural (non-LLM) parser. It is used both inline (scrape.Pool.Scrape
// calls it for every URL IsPDFURL detects as a PDF) and by the background
// worker retrying a job that timed out inline.
func (s *Service) ExtractInMemory(ctx context.Context, url, title string) (*Result, error) {
	resolvedTitle := deriveTitle(url, title)

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FallbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return &Result{Status: StatusFailed, Title: resolvedTitle, Source: url, Error: fmt.Sprintf("build request: %v", err)}, nil
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return &Result{Status: StatusFailed, Title: resolvedTitle, Source: url, Error: fmt.Sprintf("could not fetch PDF bytes: %v", err)}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &Result{Status: StatusFailed, Title: resolvedTitle, Source: url, Error: fmt.Sprintf("unexpected status %d", resp.StatusCode)}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Result{Status: StatusFailed, Title: resolvedTitle, Source: url, Error: fmt.Sprintf("read body: %v", err)}, nil
	}

	text, pageCount, err := extractTextFromBytes(body)
	if err != nil {
		return &Result{Status: StatusFailed, Title: resolvedTitle, Source: url, Error: fmt.Sprintf("in-memory PDF parsing failed: %v", err)}, nil
	}

	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return &Result{Status: StatusFailed, Title: resolvedTitle, Source: url, PageCount: pageCount, Error: "PDF does not contain extractable text"}, nil
	}
	return &Result{Status: StatusComplete, Text: normalized, Title: resolvedTitle, Source: url, PageCount: pageCount}, nil
}

// extractTextFromBytes parses pdfBytes structurally via pdfcpu's text
// extraction mode and returns concatenated per-page text plus the page
// count. pdfcpu writes one <basename>_page_N.txt file per page into a
// scratch directory; a temp file/dir pair is used since the api only
// extracts from/to the filesystem.
func extractTextFromBytes(pdfBytes []byte) (string, int, error) {
	tmpDir, err := os.MkdirTemp("", "pdf-extract-*")
	if err != nil {
		return "", 0, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	inFile := filepath.Join(tmpDir, "source.pdf")
	if err := os.WriteFile(inFile, pdfBytes, 0o600); err != nil {
		return "", 0, fmt.Errorf("write scratch pdf: %w", err)
	}

	pageCount, err := pdfcpuapi.PageCountFile(inFile)
	if err != nil {
		return "", 0, fmt.Errorf("read page count: %w", err)
	}

	outDir := filepath.Join(tmpDir, "out")
	if err := os.Mkdir(outDir, 0o700); err != nil {
		return "", 0, fmt.Errorf("create output dir: %w", err)
	}
	if err := pdfcpuapi.ExtractTextFile(inFile, outDir, nil, nil); err != nil {
		return "", 0, fmt.Errorf("extract text: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", pageCount, fmt.Errorf("read output dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var pages []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), pageCount, nil
}
