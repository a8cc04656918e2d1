package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ResearchdYAMLConfig represents the complete researchd.yaml file structure.
type ResearchdYAMLConfig struct {
	Defaults      *Defaults       `yaml:"defaults"`
	Browser       *BrowserConfig  `yaml:"browser"`
	Scrape        *ScrapeConfig   `yaml:"scrape"`
	Pdf           *PdfConfig      `yaml:"pdf"`
	Tools         *ToolsConfig    `yaml:"tools"`
	Pipeline      *PipelineConfig `yaml:"pipeline"`
	ResearchQueue *QueueConfig    `yaml:"research_queue"`
	PdfQueue      *QueueConfig    `yaml:"pdf_queue"`
	Server        *ServerConfig   `yaml:"server"`
}

// LLMProvidersYAMLConfig represents the llm-providers.yaml file structure.
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads the YAML files, merges them over the built-in defaults,
// and returns the configuration. No field validation is performed.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully", "llm_providers", stats.LLMProviders)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadResearchdYAML()
	if err != nil {
		return nil, NewLoadError("researchd.yaml", err)
	}

	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	browser := DefaultBrowserConfig()
	if yamlCfg.Browser != nil {
		if err := mergo.Merge(browser, yamlCfg.Browser, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge browser config: %w", err)
		}
	}

	scrape := DefaultScrapeConfig()
	if yamlCfg.Scrape != nil {
		if err := mergo.Merge(scrape, yamlCfg.Scrape, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge scrape config: %w", err)
		}
	}

	pdf := DefaultPdfConfig()
	if yamlCfg.Pdf != nil {
		if err := mergo.Merge(pdf, yamlCfg.Pdf, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge pdf config: %w", err)
		}
	}

	tools := DefaultToolsConfig()
	if yamlCfg.Tools != nil {
		if err := mergo.Merge(tools, yamlCfg.Tools, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge tools config: %w", err)
		}
	}

	pipeline := DefaultPipelineConfig()
	if yamlCfg.Pipeline != nil {
		if err := mergo.Merge(pipeline, yamlCfg.Pipeline, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge pipeline config: %w", err)
		}
	}

	researchQueue := DefaultResearchQueueConfig()
	if yamlCfg.ResearchQueue != nil {
		if err := mergo.Merge(researchQueue, yamlCfg.ResearchQueue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge research_queue config: %w", err)
		}
	}

	pdfQueue := DefaultPdfQueueConfig()
	if yamlCfg.PdfQueue != nil {
		if err := mergo.Merge(pdfQueue, yamlCfg.PdfQueue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge pdf_queue config: %w", err)
		}
	}

	server := DefaultServerConfig()
	if yamlCfg.Server != nil {
		if err := mergo.Merge(server, yamlCfg.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}

	defaults := yamlCfg.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}

	providers := make(map[string]*LLMProviderConfig, len(llmProviders))
	for name, p := range llmProviders {
		providerCopy := p
		providers[name] = &providerCopy
	}

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		Browser:             browser,
		Scrape:              scrape,
		Pdf:                 pdf,
		Tools:               tools,
		Pipeline:            pipeline,
		ResearchQueue:       researchQueue,
		PdfQueue:            pdfQueue,
		Server:              server,
		LLMProviderRegistry: NewLLMProviderRegistry(providers),
	}, nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadResearchdYAML() (*ResearchdYAMLConfig, error) {
	var cfg ResearchdYAMLConfig
	if err := l.loadYAML("researchd.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var cfg LLMProvidersYAMLConfig
	cfg.LLMProviders = make(map[string]LLMProviderConfig)
	if err := l.loadYAML("llm-providers.yaml", &cfg); err != nil {
		return nil, err
	}
	return cfg.LLMProviders, nil
}
