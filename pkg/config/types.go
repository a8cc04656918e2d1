package config

import "time"

// BrowserConfig tunes the shared headless-browser lifecycle manager (C1).
type BrowserConfig struct {
	// Headless controls whether the managed browser runs headless.
	Headless bool `yaml:"headless"`

	// LaunchTimeout bounds how long a single launch/relaunch may take.
	LaunchTimeout time.Duration `yaml:"launch_timeout"`

	// UserAgent is the desktop user agent string installed on every
	// context the scraper creates.
	UserAgent string `yaml:"user_agent,omitempty"`
}

// DefaultBrowserConfig returns the built-in browser defaults.
func DefaultBrowserConfig() *BrowserConfig {
	return &BrowserConfig{
		Headless:      true,
		LaunchTimeout: 30 * time.Second,
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	}
}

// ScrapeConfig tunes the context-slot pool and scraper (C2).
type ScrapeConfig struct {
	// NavigationTimeout bounds a single page navigation.
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`

	// MinContentChars is the minimum extracted-text length below which
	// scrape() returns nil rather than a near-empty document.
	MinContentChars int `yaml:"min_content_chars"`

	// MaxAcquireAttempts bounds the slot-acquire retry loop (§4.2 step 2).
	MaxAcquireAttempts int `yaml:"max_acquire_attempts"`
}

// DefaultScrapeConfig returns the built-in scrape defaults.
func DefaultScrapeConfig() *ScrapeConfig {
	return &ScrapeConfig{
		NavigationTimeout:  15 * time.Second,
		MinContentChars:    500,
		MaxAcquireAttempts: 2,
	}
}

// PdfConfig tunes PDF detection and extraction (C3).
type PdfConfig struct {
	// HeadProbeTimeout bounds the HEAD/ranged-GET detection probes.
	HeadProbeTimeout time.Duration `yaml:"head_probe_timeout"`

	// PrimaryTimeout is the deadline for the streaming extractor.
	PrimaryTimeout time.Duration `yaml:"primary_timeout"`

	// FallbackTimeout is the deadline for the in-memory fallback path.
	FallbackTimeout time.Duration `yaml:"fallback_timeout"`

	// MinPartialChars is the threshold distinguishing partial_timeout
	// from queued outcomes when the primary path's deadline elapses.
	MinPartialChars int `yaml:"min_partial_chars"`
}

// DefaultPdfConfig returns the built-in PDF extraction defaults.
func DefaultPdfConfig() *PdfConfig {
	return &PdfConfig{
		HeadProbeTimeout: 5 * time.Second,
		PrimaryTimeout:   45 * time.Second,
		FallbackTimeout:  90 * time.Second,
		MinPartialChars:  500,
	}
}

// ToolsConfig tunes the tool layer (C4).
type ToolsConfig struct {
	// WebSearchTotalTimeout is web_search's call-level wall-clock budget.
	WebSearchTotalTimeout time.Duration `yaml:"web_search_total_timeout"`

	// ScrapeTimeout is the per-URL scrape budget used by url_search and
	// web_search (vector_search does not scrape).
	ScrapeTimeout time.Duration `yaml:"scrape_timeout"`

	// SearchAPIKeyEnv / SearchEngineIDEnv name the env vars holding the
	// Custom Search API credentials.
	SearchAPIKeyEnv   string `yaml:"search_api_key_env"`
	SearchEngineIDEnv string `yaml:"search_engine_id_env"`

	// RollingSummaryWordThreshold is the word count above which a tool
	// result is condensed via a rolling summary before being rendered.
	RollingSummaryWordThreshold int `yaml:"rolling_summary_word_threshold"`
}

// DefaultToolsConfig returns the built-in tool-layer defaults.
func DefaultToolsConfig() *ToolsConfig {
	return &ToolsConfig{
		WebSearchTotalTimeout:       60 * time.Second,
		ScrapeTimeout:               20 * time.Second,
		SearchAPIKeyEnv:             "SEARCH_API_KEY",
		SearchEngineIDEnv:           "SEARCH_ENGINE_ID",
		RollingSummaryWordThreshold: 3000,
	}
}

// PipelineConfig tunes the research DAG's retry/timeout budgets (C7).
type PipelineConfig struct {
	SectionAttemptTimeout time.Duration `yaml:"section_attempt_timeout"`
	SectionMaxRetries     int           `yaml:"section_max_retries"`
	RepairMaxRetries      int           `yaml:"repair_max_retries"`
	RepairAttemptTimeout  time.Duration `yaml:"repair_attempt_timeout"`
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		SectionAttemptTimeout: 90 * time.Second,
		SectionMaxRetries:     2,
		RepairMaxRetries:      2,
		RepairAttemptTimeout:  30 * time.Second,
	}
}

// ServerConfig tunes the thin HTTP submission/status surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{Addr: ":8080"}
}
