// Package model defines the provider-agnostic request and response types
// exchanged with LLM backends.
package model

// Request is a one-shot structured-output invocation.
type Request struct {
	// System is the instruction preamble (may be empty).
	System string
	// Prompt is the user-visible content, context bundle already injected.
	Prompt string
}

// Usage is the token accounting reported by a provider for one request.
type Usage struct {
	Input       int64 `json:"input"`
	CachedInput int64 `json:"cached_input,omitempty"`
	Output      int64 `json:"output"`
	Reasoning   int64 `json:"reasoning,omitempty"`
}

// Total is the amount charged against the daily ledger.
func (u Usage) Total() int64 {
	return u.Input + u.Output
}

// Response is the provider's structured output for one request.
type Response struct {
	// Text is the raw response body, expected to be a JSON object.
	Text string
	// Usage is zero when the provider did not report usage.
	Usage Usage
	// Model is the concrete model that served the request.
	Model string
}
