// Package tokens counts model tokens for sizing chunks and pre-flighting the
// daily ledger. Counts are exact for OpenAI model families and an estimate for
// everything else, which falls back to a default encoding.
package tokens

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding is used for model families tiktoken does not know
// (claude-*, gemini-*, vendor-prefixed OpenRouter models).
const fallbackEncoding = "o200k_base"

// Counter counts tokens for a text segment under a specific model.
type Counter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

func NewCounter() *Counter {
	return &Counter{
		encodings: make(map[string]*tiktoken.Tiktoken),
	}
}

// Count returns the number of tokens in text for the given model.
// Unknown model families use the fallback encoding.
func (c *Counter) Count(text, model string) int {
	if text == "" {
		return 0
	}

	return len(c.encodingFor(model).Encode(text, nil, nil))
}

func (c *Counter) encodingFor(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encodings[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		slog.Debug("No tiktoken encoding for model, using fallback", "model", model, "fallback", fallbackEncoding)
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			// The fallback encoding ships with tiktoken; reaching this means
			// the library itself is broken.
			panic("tiktoken: failed to load " + fallbackEncoding + " encoding: " + err.Error())
		}
	}

	c.encodings[model] = enc
	return enc
}
