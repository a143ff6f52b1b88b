// Package anthropic implements the provider interface on the Anthropic
// Messages API. Structured output is obtained by wrapping the schema as a
// single forced tool and extracting its input.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/chronominer/chronominer/pkg/config"
	"github.com/chronominer/chronominer/pkg/environment"
	"github.com/chronominer/chronominer/pkg/httpclient"
	"github.com/chronominer/chronominer/pkg/model"
	"github.com/chronominer/chronominer/pkg/model/provider/base"
	"github.com/chronominer/chronominer/pkg/model/provider/options"
)

// defaultMaxTokens matches Anthropic's default when the user sets nothing.
const defaultMaxTokens = 8192

// extractionToolName is the single tool the schema is wrapped into.
const extractionToolName = "emit_records"

// Client represents an Anthropic client wrapper implementing provider.Provider.
type Client struct {
	base.Config
	client anthropic.Client
}

// NewClient creates a new Anthropic client from the provided configuration.
func NewClient(ctx context.Context, cfg *config.ModelConfig, env environment.Provider, opts ...options.Opt) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("model configuration is required")
	}

	authToken := env.Get(ctx, "ANTHROPIC_API_KEY")
	if authToken == "" {
		return nil, model.NewError(model.KindAuth, 0, "ANTHROPIC_API_KEY environment variable is required", nil)
	}

	slog.Debug("Anthropic API key found, creating client")

	requestOptions := []option.RequestOption{
		option.WithAPIKey(authToken),
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
		client: anthropic.NewClient(requestOptions...),
	}, nil
}

// buildParams assembles the message request for one extraction call.
func (c *Client) buildParams(req model.Request) anthropic.MessageNewParams {
	maxTokens := int64(defaultMaxTokens)
	if c.ModelConfig.MaxTokens > 0 {
		maxTokens = int64(c.ModelConfig.MaxTokens)
	}
	if override := c.ModelOptions.MaxTokens(); override != nil {
		maxTokens = int64(*override)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.ModelConfig.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if c.ModelConfig.Temperature != nil {
		params.Temperature = anthropic.Float(*c.ModelConfig.Temperature)
	}
	if c.ModelConfig.TopP != nil {
		params.TopP = anthropic.Float(*c.ModelConfig.TopP)
	}

	thinking := c.thinkingBudget(maxTokens)
	if thinking > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(thinking)
	}

	if structuredOutput := c.ModelOptions.StructuredOutput(); structuredOutput != nil {
		properties, _ := structuredOutput.Schema["properties"]
		required := stringSlice(structuredOutput.Schema["required"])

		params.Tools = []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        extractionToolName,
				Description: anthropic.String("Record the extracted data for schema " + structuredOutput.Name),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
					Required:   required,
				},
			},
		}}

		// Forced tool choice is incompatible with extended thinking; the
		// prompt still instructs the model to call the tool.
		if thinking == 0 {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfTool: &anthropic.ToolChoiceToolParam{Name: extractionToolName},
			}
		}
	}

	return params
}

// thinkingBudget translates reasoning effort into Anthropic thinking tokens.
// Returns 0 when thinking should stay disabled.
func (c *Client) thinkingBudget(maxTokens int64) int64 {
	var budget int64
	switch strings.ToLower(c.ModelConfig.ReasoningEffort) {
	case "minimal":
		budget = 1024
	case "low":
		budget = 4096
	case "medium":
		budget = 8192
	case "high":
		budget = 16384
	default:
		return 0
	}

	if budget >= maxTokens {
		slog.Warn("Anthropic thinking budget must be less than max_tokens, ignoring",
			"budget_tokens", budget, "max_tokens", maxTokens)
		return 0
	}

	return budget
}

// Invoke sends one structured-output message request.
func (c *Client) Invoke(ctx context.Context, req model.Request) (*model.Response, error) {
	params := c.buildParams(req)

	slog.Debug("Anthropic message request",
		"model", params.Model,
		"max_tokens", params.MaxTokens)

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, Classify(err)
	}

	text, err := extractText(message)
	if err != nil {
		return nil, err
	}

	return &model.Response{
		Text:  text,
		Model: string(message.Model),
		Usage: model.Usage{
			Input:       message.Usage.InputTokens,
			CachedInput: message.Usage.CacheReadInputTokens,
			Output:      message.Usage.OutputTokens,
		},
	}, nil
}

// extractText prefers the forced tool's input; plain text blocks are the
// fallback when thinking disabled forced tool choice.
func extractText(message *anthropic.Message) (string, error) {
	var textParts []string
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.ToolUseBlock:
			raw, err := json.Marshal(b.Input)
			if err != nil {
				return "", model.NewError(model.KindValidation, 0, "tool input is not valid JSON", err)
			}
			return string(raw), nil
		case anthropic.TextBlock:
			textParts = append(textParts, b.Text)
		}
	}

	if len(textParts) == 0 {
		return "", model.NewError(model.KindValidation, 0, "response contains no tool use or text", nil)
	}

	return strings.Join(textParts, ""), nil
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Classify maps Anthropic SDK errors onto the unified error taxonomy.
func Classify(err error) error {
	var apierr *anthropic.Error
	if !errors.As(err, &apierr) {
		return model.NewError(model.KindTransient, 0, "anthropic request failed", err)
	}

	kind := model.ClassifyStatus(apierr.StatusCode)
	if kind == model.KindPermanent && strings.Contains(strings.ToLower(apierr.Error()), "schema") {
		kind = model.KindSchemaUnsupported
	}

	return model.NewError(kind, apierr.StatusCode, apierr.Error(), err)
}
