package config

// Config is the umbrella configuration object returned by Initialize()
// and used throughout the service.
type Config struct {
	configDir string

	Defaults *Defaults

	Browser       *BrowserConfig
	Scrape        *ScrapeConfig
	Pdf           *PdfConfig
	Tools         *ToolsConfig
	Pipeline      *PipelineConfig
	ResearchQueue *QueueConfig
	PdfQueue      *QueueConfig
	Server        *ServerConfig

	LLMProviderRegistry *LLMProviderRegistry
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetLLMProvider retrieves an LLM provider configuration by name.
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// ConfigStats contains statistics about loaded configuration.
type ConfigStats struct {
	LLMProviders int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{LLMProviders: c.LLMProviderRegistry.Len()}
}
