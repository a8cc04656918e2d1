package config

// Defaults contains system-wide default configurations used when specific
// components don't specify their own values.
type Defaults struct {
	// LLMProvider names the LLMProviderRegistry entry used for high-
	// reasoning calls (outline, perspectives, fusion) when model_tier=pro.
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// MiniLLMProvider names the registry entry used when model_tier=mini,
	// and for lightweight rolling-summary/repair calls regardless of tier.
	MiniLLMProvider string `yaml:"mini_llm_provider,omitempty"`

	// SecondaryLLMProvider names the registry entry alternated in by
	// expert index during the content stage (spec.md §4.7.3).
	SecondaryLLMProvider string `yaml:"secondary_llm_provider,omitempty"`
}
