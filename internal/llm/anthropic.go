package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Claude adapter.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// anthropicProvider implements Provider using the official Anthropic SDK.
//
// Anthropic's wire format splits system prompts out of the message array and
// represents tool calls as content blocks rather than a parallel tool_calls
// array, so this adapter does more translation work than the OpenAI one.
type anthropicProvider struct {
	cfg    AnthropicConfig
	client anthropic.Client
}

// NewAnthropic returns a Provider backed by the Anthropic Messages API.
func NewAnthropic(cfg AnthropicConfig) Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &anthropicProvider{
		cfg: cfg,
		client: anthropic.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithRequestTimeout(cfg.Timeout),
		),
	}
}

func (p *anthropicProvider) buildParams(req CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	var system string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case RoleUser:
			if len(m.Blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(toAnthropicBlocks(m.Blocks)...))
			} else {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		case RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		case RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input interface{}
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		}
	}

	tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if raw, err := json.Marshal(t.Function.Parameters); err == nil {
			_ = json.Unmarshal(raw, &schema)
		}
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Function.Name,
				Description: anthropic.String(t.Function.Description),
				InputSchema: schema,
			},
		})
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

// toAnthropicBlocks renders a multimodal message as Anthropic content
// blocks. A data: URI's payload is already base64, so it feeds the base64
// image source directly; any other image reference becomes a URL source.
func toAnthropicBlocks(blocks []ContentBlock) []anthropic.ContentBlockParamUnion {
	out := make([]anthropic.ContentBlockParamUnion, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "image" {
			if mime, payload, ok := ParseDataURI(b.ImageURL); ok {
				out = append(out, anthropic.NewImageBlockBase64(mime, payload))
			} else {
				out = append(out, anthropic.ContentBlockParamUnion{
					OfImage: &anthropic.ImageBlockParam{
						Source: anthropic.ImageBlockParamSourceUnion{
							OfURL: &anthropic.URLImageSourceParam{URL: b.ImageURL},
						},
					},
				})
			}
			continue
		}
		out = append(out, anthropic.NewTextBlock(b.Text))
	}
	return out
}

// Complete sends a non-streaming Messages API request.
func (p *anthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	params := p.buildParams(req)
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm: anthropic completion: %w", err)
	}
	if len(resp.Content) == 0 {
		return nil, errors.New("llm: anthropic completion returned no content blocks")
	}

	msg := Message{Role: RoleAssistant}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			msg.Content += variant.Text
		case anthropic.ToolUseBlock:
			args, _ := json.Marshal(variant.Input)
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:   variant.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      variant.Name,
					Arguments: string(args),
				},
			})
		}
	}

	finish := string(resp.StopReason)
	if len(msg.ToolCalls) > 0 {
		finish = "tool_calls"
	}

	return &CompletionResponse{
		Message:      msg,
		FinishReason: finish,
		Usage: TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// Stream sends a streaming Messages API request, re-emitting Anthropic's
// content-block delta events as the provider-agnostic StreamChunk shape.
func (p *anthropicProvider) Stream(ctx context.Context, req CompletionRequest, onChunk func(StreamChunk) error) error {
	params := p.buildParams(req)
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var toolIndex = -1
	var usage TokenUsage
	var stopReason string
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type == "tool_use" {
				toolIndex++
				if err := onChunk(StreamChunk{ToolCallDeltas: []ToolCallDelta{{
					Index: toolIndex,
					ID:    ev.ContentBlock.ID,
					Name:  ev.ContentBlock.Name,
				}}}); err != nil {
					return err
				}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if err := onChunk(StreamChunk{ContentDelta: delta.Text}); err != nil {
					return err
				}
			case anthropic.InputJSONDelta:
				if err := onChunk(StreamChunk{ToolCallDeltas: []ToolCallDelta{{
					Index:          toolIndex,
					ArgumentsDelta: delta.PartialJSON,
				}}}); err != nil {
					return err
				}
			}
		case anthropic.MessageDeltaEvent:
			usage.CompletionTokens = int(ev.Usage.OutputTokens)
			stopReason = string(ev.Delta.StopReason)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("llm: anthropic stream: %w", err)
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	finish := stopReason
	if toolIndex >= 0 {
		finish = "tool_calls"
	}
	return onChunk(StreamChunk{Done: true, FinishReason: finish, Usage: &usage})
}
