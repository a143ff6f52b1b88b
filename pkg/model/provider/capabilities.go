package provider

import (
	"strings"
	"time"

	"github.com/kofalt/go-memoize"

	"github.com/chronominer/chronominer/pkg/config"
)

// Capability is the static descriptor of what a model family supports.
// It drives parameter filtering.
type Capability struct {
	Family                   string
	Provider                 string
	SupportsReasoning        bool
	SupportsTemperature      bool
	SupportsTopP             bool
	SupportsStructuredOutput bool
	MaxOutputTokens          int
}

// capabilityTable is ordered: the first matching prefix wins.
var capabilityTable = []struct {
	prefix string
	cap    Capability
}{
	{"o", Capability{Family: "o-series", Provider: ProviderOpenAI, SupportsReasoning: true, SupportsStructuredOutput: true, MaxOutputTokens: 100000}},
	{"gpt-5", Capability{Family: "gpt-5", Provider: ProviderOpenAI, SupportsReasoning: true, SupportsStructuredOutput: true, MaxOutputTokens: 128000}},
	{"gpt-", Capability{Family: "gpt", Provider: ProviderOpenAI, SupportsTemperature: true, SupportsTopP: true, SupportsStructuredOutput: true, MaxOutputTokens: 16384}},
	{"claude-", Capability{Family: "claude", Provider: ProviderAnthropic, SupportsReasoning: true, SupportsTemperature: true, SupportsTopP: true, SupportsStructuredOutput: true, MaxOutputTokens: 64000}},
	{"gemini-", Capability{Family: "gemini", Provider: ProviderGoogle, SupportsReasoning: true, SupportsTemperature: true, SupportsTopP: true, SupportsStructuredOutput: true, MaxOutputTokens: 65536}},
	{"deepseek/", Capability{Family: "deepseek", Provider: ProviderOpenRouter, SupportsReasoning: true, SupportsTemperature: true, SupportsTopP: true, SupportsStructuredOutput: true, MaxOutputTokens: 32768}},
}

// defaultCapability is the conservative fallback for unrecognized models.
var defaultCapability = Capability{
	Family:                   "unknown",
	Provider:                 ProviderOpenRouter,
	SupportsTemperature:      true,
	SupportsTopP:             true,
	SupportsStructuredOutput: true,
	MaxOutputTokens:          16384,
}

// Lookups are pure; the memoizer only saves the repeated prefix scan when the
// same model is resolved once per chunk.
var capabilityCache = memoize.NewMemoizer(time.Hour, 2*time.Hour)

// Capabilities returns the capability descriptor for a model name.
func Capabilities(modelName string) Capability {
	result, _, _ := capabilityCache.Memoize(modelName, func() (any, error) {
		return lookupCapability(modelName), nil
	})
	return result.(Capability)
}

func lookupCapability(modelName string) Capability {
	// gpt-5* must be checked before the generic gpt- prefix; reasoning
	// o-series must not swallow names like "openrouter/...".
	for _, entry := range capabilityTable {
		if entry.prefix == "o" {
			if oSeriesPattern.MatchString(modelName) {
				return entry.cap
			}
			continue
		}
		if strings.HasPrefix(modelName, entry.prefix) {
			return entry.cap
		}
	}
	return defaultCapability
}

// FilterParameters drops request parameters the model does not accept.
// Reasoning models reject temperature and top_p.
func FilterParameters(cfg config.ModelConfig) config.ModelConfig {
	capability := Capabilities(cfg.Model)

	effective := cfg
	if !capability.SupportsTemperature {
		effective.Temperature = nil
	}
	if !capability.SupportsTopP {
		effective.TopP = nil
	}
	if !capability.SupportsReasoning {
		effective.ReasoningEffort = ""
	}
	if effective.MaxTokens <= 0 || effective.MaxTokens > capability.MaxOutputTokens {
		effective.MaxTokens = capability.MaxOutputTokens
	}

	return effective
}
