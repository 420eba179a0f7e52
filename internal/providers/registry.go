// Package providers: registry.go
// Provider Registry: single source of truth for LLM provider metadata.
package providers

import "strings"

// Backend names the wire protocol a provider speaks.
type Backend string

const (
	BackendOpenAI    Backend = "openai" // OpenAI-compatible chat completions
	BackendAnthropic Backend = "anthropic"
)

// ProviderSpec holds metadata for one LLM provider.
type ProviderSpec struct {
	Name              string          // config field name, e.g. "deepseek"
	Keywords          []string        // model-name keywords for matching (lowercase)
	EnvKey            string          // env var for API key, e.g. "DEEPSEEK_API_KEY"
	DisplayName       string          // shown in status
	Backend           Backend         // wire protocol, empty means OpenAI-compatible
	ModelPrefix       string          // prefix added to model names when routing through a gateway
	IsGateway         bool            // can route any model (OpenRouter, AiHubMix)
	IsLocal           bool            // local deployment (vLLM, Ollama)
	DetectByKeyPrefix string          // match api_key prefix
	DetectByBaseKW    string          // match substring in api_base URL
	DefaultAPIBase    string          // fallback base URL
	StripModelPrefix  bool            // strip "provider/" before re-prefixing
	ModelOverrides    []ModelOverride // per-model param overrides
}

// ModelOverride applies parameter overrides when a model name matches a pattern.
type ModelOverride struct {
	Pattern     string // substring to match in model name (lowercase)
	Temperature *float64
}

// Label returns a display label.
func (s *ProviderSpec) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Name
}

// Protocol returns the spec's backend, defaulting to OpenAI-compatible.
func (s *ProviderSpec) Protocol() Backend {
	if s.Backend == "" {
		return BackendOpenAI
	}
	return s.Backend
}

func temperature(v float64) *float64 { return &v }

// Providers is the registry. Order = priority. Gateways first.
var Providers = []*ProviderSpec{
	// Custom (user-provided OpenAI-compatible endpoint)
	{
		Name: "custom", EnvKey: "OPENAI_API_KEY", DisplayName: "Custom",
		IsGateway: true, StripModelPrefix: true,
	},
	// OpenRouter
	{
		Name: "openrouter", Keywords: []string{"openrouter"},
		EnvKey: "OPENROUTER_API_KEY", DisplayName: "OpenRouter",
		IsGateway: true, DetectByKeyPrefix: "sk-or-", DetectByBaseKW: "openrouter",
		DefaultAPIBase: "https://openrouter.ai/api/v1",
	},
	// AiHubMix
	{
		Name: "aihubmix", Keywords: []string{"aihubmix"},
		EnvKey: "OPENAI_API_KEY", DisplayName: "AiHubMix",
		IsGateway: true, DetectByBaseKW: "aihubmix",
		DefaultAPIBase:   "https://aihubmix.com/v1",
		StripModelPrefix: true,
	},
	// Anthropic
	{
		Name: "anthropic", Keywords: []string{"anthropic", "claude"},
		EnvKey: "ANTHROPIC_API_KEY", DisplayName: "Anthropic",
		Backend: BackendAnthropic,
	},
	// OpenAI
	{
		Name: "openai", Keywords: []string{"openai", "gpt", "o1-", "o3-", "o4-"},
		EnvKey: "OPENAI_API_KEY", DisplayName: "OpenAI",
		DefaultAPIBase: "https://api.openai.com/v1",
		ModelOverrides: []ModelOverride{
			{Pattern: "o3-", Temperature: temperature(1.0)},
		},
	},
	// Gemini, through its OpenAI-compatible endpoint
	{
		Name: "gemini", Keywords: []string{"gemini"},
		EnvKey: "GEMINI_API_KEY", DisplayName: "Gemini",
		DefaultAPIBase: "https://generativelanguage.googleapis.com/v1beta/openai",
	},
	// xAI
	{
		Name: "xai", Keywords: []string{"grok", "xai"},
		EnvKey: "XAI_API_KEY", DisplayName: "xAI",
		DefaultAPIBase: "https://api.x.ai/v1",
	},
	// DeepSeek
	{
		Name: "deepseek", Keywords: []string{"deepseek"},
		EnvKey: "DEEPSEEK_API_KEY", DisplayName: "DeepSeek",
		DefaultAPIBase: "https://api.deepseek.com/v1",
	},
	// Moonshot
	{
		Name: "moonshot", Keywords: []string{"moonshot", "kimi"},
		EnvKey: "MOONSHOT_API_KEY", DisplayName: "Moonshot",
		DefaultAPIBase: "https://api.moonshot.ai/v1",
		ModelOverrides: []ModelOverride{
			{Pattern: "kimi-k2.5", Temperature: temperature(1.0)},
		},
	},
	// vLLM / Local
	{
		Name: "vllm", Keywords: []string{"vllm"},
		EnvKey: "HOSTED_VLLM_API_KEY", DisplayName: "vLLM/Local",
		IsLocal: true,
	},
	// Groq
	{
		Name: "groq", Keywords: []string{"groq"},
		EnvKey: "GROQ_API_KEY", DisplayName: "Groq",
		DefaultAPIBase: "https://api.groq.com/openai/v1",
	},
}

// FindByModel returns a standard provider spec matching a model name keyword.
// Skips gateways and local providers.
func FindByModel(model string) *ProviderSpec {
	lower := strings.ToLower(model)
	for _, spec := range Providers {
		if spec.IsGateway || spec.IsLocal {
			continue
		}
		for _, kw := range spec.Keywords {
			if strings.Contains(lower, kw) {
				return spec
			}
		}
	}
	return nil
}

// FindGateway detects a gateway/local provider.
// Priority: 1) provider_name  2) api_key prefix  3) api_base keyword.
func FindGateway(providerName, apiKey, apiBase string) *ProviderSpec {
	// 1. Direct match by config key
	if providerName != "" {
		spec := FindByName(providerName)
		if spec != nil && (spec.IsGateway || spec.IsLocal) {
			return spec
		}
	}
	// 2. Auto-detect by api_key prefix / api_base keyword
	for _, spec := range Providers {
		if spec.DetectByKeyPrefix != "" && apiKey != "" &&
			strings.HasPrefix(apiKey, spec.DetectByKeyPrefix) {
			return spec
		}
		if spec.DetectByBaseKW != "" && apiBase != "" &&
			strings.Contains(apiBase, spec.DetectByBaseKW) {
			return spec
		}
	}
	return nil
}

// FindByName finds a provider spec by config field name.
func FindByName(name string) *ProviderSpec {
	for _, spec := range Providers {
		if spec.Name == name {
			return spec
		}
	}
	return nil
}

// Family returns the provider name serving model, or "" when unknown.
func Family(model string) string {
	if spec := FindByModel(model); spec != nil {
		return spec.Name
	}
	return ""
}
