// Package openrouter implements the provider interface for OpenRouter's
// OpenAI-compatible endpoint. Batch mode is not supported.
package openrouter

import (
	"context"
	"errors"

	"github.com/chronominer/chronominer/pkg/config"
	"github.com/chronominer/chronominer/pkg/environment"
	"github.com/chronominer/chronominer/pkg/model"
	"github.com/chronominer/chronominer/pkg/model/provider/openai"
	"github.com/chronominer/chronominer/pkg/model/provider/options"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Client wraps the OpenAI-compatible client with OpenRouter credentials.
type Client struct {
	inner *openai.Client
}

// NewClient creates a new OpenRouter client from the provided configuration.
func NewClient(ctx context.Context, cfg *config.ModelConfig, env environment.Provider, opts ...options.Opt) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("model configuration is required")
	}

	wrapped := *cfg
	if wrapped.BaseURL == "" {
		wrapped.BaseURL = defaultBaseURL
	}

	inner, err := openai.NewClientWithKey(ctx, &wrapped, env, "OPENROUTER_API_KEY", opts...)
	if err != nil {
		return nil, err
	}

	return &Client{inner: inner}, nil
}

func (c *Client) Invoke(ctx context.Context, req model.Request) (*model.Response, error) {
	return c.inner.Invoke(ctx, req)
}

func (c *Client) ID() string {
	return "openrouter/" + c.inner.ModelConfig.Model
}
