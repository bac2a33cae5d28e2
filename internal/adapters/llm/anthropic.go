package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	"github.com/PabloGalante/finadvisor/internal/app/tools"
	"github.com/PabloGalante/finadvisor/internal/domain"
)

const DefaultAnthropicModel = anthropic.ModelClaude3_7SonnetLatest

type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

type AnthropicClient struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient reads ANTHROPIC_API_KEY from the environment when cfg.APIKey
// is empty. Extra options are appended after the key, so tests can swap transports.
func NewAnthropicClient(cfg AnthropicConfig, opts ...option.RequestOption) *AnthropicClient {
	var reqOpts []option.RequestOption
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	reqOpts = append(reqOpts, opts...)

	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	c := anthropic.NewClient(reqOpts...)
	return &AnthropicClient{client: &c, model: model, maxTokens: maxTokens}
}

// Step implements domain.LLMClient with the Messages API.
func (a *AnthropicClient) Step(ctx context.Context, req domain.StepRequest) (*domain.StepResult, error) {
	toolParams, err := anthropicTools(req.Tools)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages:  anthropicMessages(req.History),
		Tools:     toolParams,
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	out := &domain.StepResult{}
	var text []string
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			text = append(text, v.Text)
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
				ID:        v.ID,
				Name:      v.Name,
				Arguments: json.RawMessage(v.JSON.Input.Raw()),
			})
		}
	}
	out.Text = strings.Join(text, "\n")

	if out.Text == "" && len(out.ToolCalls) == 0 {
		return nil, fmt.Errorf("anthropic returned no content (stop reason %q)", msg.StopReason)
	}
	return out, nil
}

// anthropicMessages keeps every tool_use immediately followed by its tool_result.
func anthropicMessages(history []domain.Exchange) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, ex := range history {
		switch {
		case len(ex.ToolResults) > 0:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(ex.ToolResults))
			for _, r := range ex.ToolResults {
				isErr := gjson.Get(r.Output, "error").Exists()
				blocks = append(blocks, anthropic.NewToolResultBlock(r.CallID, r.Output, isErr))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))

		case len(ex.ToolCalls) > 0:
			var blocks []anthropic.ContentBlockParamUnion
			if ex.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(ex.Text))
			}
			for _, c := range ex.ToolCalls {
				args := c.Arguments
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, args, c.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case ex.Role == domain.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(ex.Text)))

		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(ex.Text)))
		}
	}
	return out
}

func anthropicTools(specs []domain.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		s, err := tools.ParseSchema(spec.Parameters)
		if err != nil {
			return nil, fmt.Errorf("parsing %s schema: %w", spec.Name, err)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: s.Properties,
			},
		}})
	}
	return out, nil
}
