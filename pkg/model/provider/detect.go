package provider

import (
	"regexp"
	"strings"
)

// Provider tags recognized by detection and the factory.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGoogle     = "google"
	ProviderOpenRouter = "openrouter"
)

// oSeriesPattern matches OpenAI reasoning models like o1, o3-mini, o4-mini.
var oSeriesPattern = regexp.MustCompile(`^o[0-9]+(-|$)`)

// Detect infers the provider tag from a model name. An explicit provider in
// the model config overrides detection.
func Detect(modelName string) string {
	switch {
	case strings.HasPrefix(modelName, "gpt-"):
		return ProviderOpenAI
	case oSeriesPattern.MatchString(modelName):
		return ProviderOpenAI
	case strings.HasPrefix(modelName, "claude-"):
		return ProviderAnthropic
	case strings.HasPrefix(modelName, "gemini-"):
		return ProviderGoogle
	case strings.Contains(modelName, "/"):
		// OpenRouter uses vendor-prefixed names like "deepseek/deepseek-chat".
		return ProviderOpenRouter
	default:
		return ""
	}
}
