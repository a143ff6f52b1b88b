package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chronominer/chronominer/pkg/config"
	"github.com/chronominer/chronominer/pkg/environment"
	"github.com/chronominer/chronominer/pkg/model"
	"github.com/chronominer/chronominer/pkg/model/provider/anthropic"
	"github.com/chronominer/chronominer/pkg/model/provider/gemini"
	"github.com/chronominer/chronominer/pkg/model/provider/openai"
	"github.com/chronominer/chronominer/pkg/model/provider/openrouter"
	"github.com/chronominer/chronominer/pkg/model/provider/options"
)

// Provider is the unified interface to model backends for one-shot
// structured-output invocations.
type Provider interface {
	// Invoke sends one request and returns the structured response.
	// Failures are classified as *model.Error.
	Invoke(ctx context.Context, req model.Request) (*model.Response, error)

	// ID returns "provider/model" for logging and journal records.
	ID() string
}

// New creates a provider client for the model config. When cfg.Provider is
// empty the provider is detected from the model name. Parameters the model
// does not support are filtered before the client is built.
func New(ctx context.Context, cfg config.ModelConfig, env environment.Provider, opts ...options.Opt) (Provider, error) {
	if cfg.Provider == "" {
		cfg.Provider = Detect(cfg.Model)
	}
	if cfg.Provider == "" {
		return nil, fmt.Errorf("cannot detect provider for model %q, set models.*.provider explicitly", cfg.Model)
	}

	cfg = FilterParameters(cfg)

	slog.Debug("Creating model provider", "provider", cfg.Provider, "model", cfg.Model)

	switch cfg.Provider {
	case ProviderOpenAI:
		return openai.NewClient(ctx, &cfg, env, opts...)
	case ProviderAnthropic:
		return anthropic.NewClient(ctx, &cfg, env, opts...)
	case ProviderGoogle:
		return gemini.NewClient(ctx, &cfg, env, opts...)
	case ProviderOpenRouter:
		return openrouter.NewClient(ctx, &cfg, env, opts...)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}
