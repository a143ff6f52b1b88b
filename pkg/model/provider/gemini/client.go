// Package gemini implements the provider interface on the Google Gemini API
// with native JSON-schema structured output.
package gemini

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/chronominer/chronominer/pkg/config"
	"github.com/chronominer/chronominer/pkg/environment"
	"github.com/chronominer/chronominer/pkg/httpclient"
	"github.com/chronominer/chronominer/pkg/model"
	"github.com/chronominer/chronominer/pkg/model/provider/base"
	"github.com/chronominer/chronominer/pkg/model/provider/options"
)

// Client represents a Gemini client wrapper.
// It implements the provider.Provider interface.
type Client struct {
	base.Config
	client *genai.Client
}

// NewClient creates a new Gemini client from the provided configuration.
func NewClient(ctx context.Context, cfg *config.ModelConfig, env environment.Provider, opts ...options.Opt) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("model configuration is required")
	}

	apiKey := env.Get(ctx, "GOOGLE_API_KEY")
	if apiKey == "" {
		return nil, model.NewError(model.KindAuth, 0, "GOOGLE_API_KEY environment variable is required", nil)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpclient.NewHTTPClient(),
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		Config: base.Config{
			ModelConfig:  *cfg,
			ModelOptions: options.Apply(opts),
			Env:          env,
		},
		client: client,
	}, nil
}

// buildConfig creates GenerateContentConfig from the model config.
func (c *Client) buildConfig(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	maxTokens := c.ModelConfig.MaxTokens
	if override := c.ModelOptions.MaxTokens(); override != nil {
		maxTokens = *override
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}

	if c.ModelConfig.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*c.ModelConfig.Temperature))
	}
	if c.ModelConfig.TopP != nil {
		cfg.TopP = genai.Ptr(float32(*c.ModelConfig.TopP))
	}

	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	if level := thinkingLevel(c.ModelConfig.ReasoningEffort); level != "" {
		cfg.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingLevel: level,
		}
	}

	if structuredOutput := c.ModelOptions.StructuredOutput(); structuredOutput != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = structuredOutput.Schema
	}

	return cfg
}

// thinkingLevel maps reasoning effort onto Gemini's thinking levels.
func thinkingLevel(effort string) genai.ThinkingLevel {
	switch strings.ToLower(effort) {
	case "minimal", "low":
		return genai.ThinkingLevelLow
	case "medium", "high":
		return genai.ThinkingLevelHigh
	default:
		return ""
	}
}

// Invoke sends one structured-output generation request.
func (c *Client) Invoke(ctx context.Context, req model.Request) (*model.Response, error) {
	cfg := c.buildConfig(req.System)

	slog.Debug("Gemini generate content request", "model", c.ModelConfig.Model)

	resp, err := c.client.Models.GenerateContent(ctx, c.ModelConfig.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, Classify(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, model.NewError(model.KindValidation, 0, "response contains no text", nil)
	}

	return &model.Response{
		Text:  text,
		Model: c.ModelConfig.Model,
		Usage: usageFrom(resp),
	}, nil
}

func usageFrom(resp *genai.GenerateContentResponse) model.Usage {
	if resp.UsageMetadata == nil {
		return model.Usage{}
	}

	return model.Usage{
		Input:       int64(resp.UsageMetadata.PromptTokenCount),
		CachedInput: int64(resp.UsageMetadata.CachedContentTokenCount),
		Output:      int64(resp.UsageMetadata.CandidatesTokenCount),
		Reasoning:   int64(resp.UsageMetadata.ThoughtsTokenCount),
	}
}

// Classify maps Gemini SDK errors onto the unified error taxonomy.
func Classify(err error) error {
	var apierr genai.APIError
	if !errors.As(err, &apierr) {
		return model.NewError(model.KindTransient, 0, "gemini request failed", err)
	}

	kind := model.ClassifyStatus(apierr.Code)
	if kind == model.KindPermanent && strings.Contains(strings.ToLower(apierr.Message), "schema") {
		kind = model.KindSchemaUnsupported
	}

	return model.NewError(kind, apierr.Code, apierr.Message, err)
}
