// Package openai implements the provider interface on the OpenAI Chat
// Completions API, including structured output and batch jobs. The OpenRouter
// provider reuses this client with a different base URL.
package openai

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/chronominer/chronominer/pkg/config"
	"github.com/chronominer/chronominer/pkg/environment"
	"github.com/chronominer/chronominer/pkg/httpclient"
	"github.com/chronominer/chronominer/pkg/model"
	"github.com/chronominer/chronominer/pkg/model/provider/base"
	"github.com/chronominer/chronominer/pkg/model/provider/options"
)

// Client represents an OpenAI client wrapper.
// It implements the provider.Provider interface.
type Client struct {
	base.Config
	client oai.Client
}

// NewClient creates a new OpenAI client from the provided configuration.
func NewClient(ctx context.Context, cfg *config.ModelConfig, env environment.Provider, opts ...options.Opt) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("model configuration is required")
	}

	return NewClientWithKey(ctx, cfg, env, "OPENAI_API_KEY", opts...)
}

// NewClientWithKey builds a client against any OpenAI-compatible endpoint,
// resolving the API key from the named environment variable. Used by the
// OpenRouter wrapper.
func NewClientWithKey(ctx context.Context, cfg *config.ModelConfig, env environment.Provider, keyEnv string, opts ...options.Opt) (*Client, error) {
	apiKey := env.Get(ctx, keyEnv)
	if apiKey == "" {
		return nil, model.NewError(model.KindAuth, 0, keyEnv+" environment variable is required", nil)
	}

	requestOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpclient.NewHTTPClient()),
	}
	if cfg.BaseURL != "" {
		requestOptions = append(requestOptions, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		Config: base.Config{
			ModelConfig:  *cfg,
			ModelOptions: options.Apply(opts),
			Env:          env,
		},
		client: oai.NewClient(requestOptions...),
	}, nil
}

// buildParams assembles the chat completion request for one extraction call.
func (c *Client) buildParams(req model.Request) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, oai.SystemMessage(req.System))
	}
	messages = append(messages, oai.UserMessage(req.Prompt))

	params := oai.ChatCompletionNewParams{
		Model:    c.ModelConfig.Model,
		Messages: messages,
	}

	if c.ModelConfig.Temperature != nil {
		params.Temperature = oai.Float(*c.ModelConfig.Temperature)
	}
	if c.ModelConfig.TopP != nil {
		params.TopP = oai.Float(*c.ModelConfig.TopP)
	}

	maxTokens := c.ModelConfig.MaxTokens
	if override := c.ModelOptions.MaxTokens(); override != nil {
		maxTokens = *override
	}
	if maxTokens > 0 {
		if c.ModelConfig.ReasoningEffort != "" {
			params.MaxCompletionTokens = oai.Int(int64(maxTokens))
		} else {
			params.MaxTokens = oai.Int(int64(maxTokens))
		}
	}

	if c.ModelConfig.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(c.ModelConfig.ReasoningEffort)
	}

	if structuredOutput := c.ModelOptions.StructuredOutput(); structuredOutput != nil {
		params.ResponseFormat.OfJSONSchema = &oai.ResponseFormatJSONSchemaParam{
			JSONSchema: oai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        structuredOutput.Name,
				Description: oai.String(structuredOutput.Description),
				Schema:      structuredOutput.Schema,
				Strict:      oai.Bool(true),
			},
		}
	}

	return params
}

// Invoke sends one structured-output chat completion.
func (c *Client) Invoke(ctx context.Context, req model.Request) (*model.Response, error) {
	params := c.buildParams(req)

	slog.Debug("OpenAI chat completion request",
		"model", params.Model,
		"message_count", len(params.Messages))

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, Classify(err)
	}

	if len(completion.Choices) == 0 {
		return nil, model.NewError(model.KindValidation, 0, "response has no choices", nil)
	}

	choice := completion.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, model.NewError(model.KindValidation, 0, "model refused: "+choice.Message.Refusal, nil)
	}

	return &model.Response{
		Text:  choice.Message.Content,
		Model: completion.Model,
		Usage: model.Usage{
			Input:       completion.Usage.PromptTokens,
			CachedInput: completion.Usage.PromptTokensDetails.CachedTokens,
			Output:      completion.Usage.CompletionTokens,
			Reasoning:   completion.Usage.CompletionTokensDetails.ReasoningTokens,
		},
	}, nil
}

// Classify maps OpenAI SDK errors onto the unified error taxonomy.
func Classify(err error) error {
	var apierr *oai.Error
	if !errors.As(err, &apierr) {
		// Transport-level failure, likely recoverable.
		return model.NewError(model.KindTransient, 0, "openai request failed", err)
	}

	kind := model.ClassifyStatus(apierr.StatusCode)
	if kind == model.KindPermanent && mentionsSchema(apierr.Message) {
		kind = model.KindSchemaUnsupported
	}

	return model.NewError(kind, apierr.StatusCode, apierr.Message, err)
}

func mentionsSchema(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "schema") || strings.Contains(lower, "response_format")
}
