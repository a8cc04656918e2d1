package config

import (
	"fmt"
	"sync"
)

// LLMProviderConfig defines one reasoning model backend the pipeline can
// address. The pipeline selects between providers by model tier and, for
// content-stage experts, alternates by index (spec.md §4.7.3).
type LLMProviderConfig struct {
	Type LLMProviderType `yaml:"type" validate:"required"`
	Model string `yaml:"model" validate:"required"`

	// APIKeyEnv names the environment variable holding the provider's API
	// key; the value itself is never stored in config.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	BaseURL string `yaml:"base_url,omitempty"`

	// MaxToolResultTokens is loaded from YAML but not read by any code in
	// this repository; tool results are fed back into the conversation
	// without truncation.
	MaxToolResultTokens int `yaml:"max_tool_result_tokens" validate:"required,min=1000"`
}

// LLMProviderRegistry stores LLM provider configurations in memory with
// thread-safe access.
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
	mu        sync.RWMutex
}

// NewLLMProviderRegistry creates a new LLM provider registry.
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	copied := make(map[string]*LLMProviderConfig, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &LLMProviderRegistry{providers: copied}
}

// Get retrieves an LLM provider configuration by name.
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
	}
	return provider, nil
}

// GetAll returns all LLM provider configurations (returns a copy).
func (r *LLMProviderRegistry) GetAll() map[string]*LLMProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*LLMProviderConfig, len(r.providers))
	for k, v := range r.providers {
		result[k] = v
	}
	return result
}

// Len returns the number of providers in the registry.
func (r *LLMProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
