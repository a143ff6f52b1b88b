package options

import (
	"github.com/chronominer/chronominer/pkg/schema"
)

type ModelOptions struct {
	structuredOutput *schema.Descriptor
	maxTokens        *int
}

func (c *ModelOptions) StructuredOutput() *schema.Descriptor {
	return c.structuredOutput
}

func (c *ModelOptions) MaxTokens() *int {
	return c.maxTokens
}

type Opt func(*ModelOptions)

func WithStructuredOutput(desc *schema.Descriptor) Opt {
	return func(cfg *ModelOptions) {
		cfg.structuredOutput = desc
	}
}

func WithMaxTokens(maxTokens int) Opt {
	return func(cfg *ModelOptions) {
		cfg.maxTokens = &maxTokens
	}
}

// Apply folds opts into a ModelOptions value.
func Apply(opts []Opt) ModelOptions {
	var out ModelOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}
