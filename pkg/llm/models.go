package llm

import "strings"

// Provider identifiers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// ModelInfo carries pricing and limit information for one model.
// CPM values are USD per million tokens.
type ModelInfo struct {
	Provider         string
	InputCPM         float64
	OutputCPM        float64
	MaxContextTokens int
	MaxOutputTokens  int
}

// KnownModels registry contains pricing and provider information for
// common models. Optional: unknown models are inferred by name pattern
// and tracked with zero cost.
//
//nolint:gochecknoglobals // static model registry
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-sonnet-4-20250514": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-opus-4-1": {
		Provider:         ProviderAnthropic,
		InputCPM:         15.0,
		OutputCPM:        75.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},
	"gpt-4o": {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	"o3": {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"gpt-5": {
		Provider:         ProviderOpenAI,
		InputCPM:         20.0,
		OutputCPM:        60.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	"gemini-2.0-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.1,
		OutputCPM:        0.4,
		MaxContextTokens: 1000000,
		MaxOutputTokens:  8192,
	},
	"gemini-2.5-pro": {
		Provider:         ProviderGoogle,
		InputCPM:         1.25,
		OutputCPM:        10.0,
		MaxContextTokens: 1000000,
		MaxOutputTokens:  65536,
	},
}

// CalculateCost computes USD cost for one completion. Unknown models
// cost zero so new models work without pricing data.
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	info, ok := KnownModels[model]
	if !ok {
		return 0
	}
	inputCost := float64(promptTokens) / 1_000_000.0 * info.InputCPM
	outputCost := float64(completionTokens) / 1_000_000.0 * info.OutputCPM
	return inputCost + outputCost
}

// InferProvider guesses the provider from the model name when the model
// is not in the registry.
func InferProvider(model string) string {
	if info, ok := KnownModels[model]; ok {
		return info.Provider
	}
	switch {
	case strings.HasPrefix(model, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return ProviderOpenAI
	case strings.HasPrefix(model, "gemini"):
		return ProviderGoogle
	default:
		return ProviderOllama
	}
}

// MaxContextTokens returns the context window for a model, falling back
// to a conservative default for unknown models.
func MaxContextTokens(model string) int {
	if info, ok := KnownModels[model]; ok && info.MaxContextTokens > 0 {
		return info.MaxContextTokens
	}
	return 128000
}
