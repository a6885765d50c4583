package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

// OpenAIConfig configures the OpenAI-compatible adapter. The same adapter
// backs both the "openai" provider and the "local" provider: a local daemon
// speaking the OpenAI chat-completions wire format only needs BaseURL
// pointed at its own address and an arbitrary, possibly empty, APIKey.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint. Used to point this adapter at a
	// local model daemon instead of api.openai.com.
	BaseURL string
	// Model is the default model used when CompletionRequest.Model is empty.
	Model   string
	Timeout time.Duration
}

// openAIProvider implements Provider using the official OpenAI SDK.
type openAIProvider struct {
	cfg    OpenAIConfig
	client openai.Client
}

// NewOpenAI returns a Provider backed by the OpenAI API.
func NewOpenAI(cfg OpenAIConfig) Provider {
	return newOpenAICompatible(cfg)
}

// NewLocal returns a Provider backed by a local model daemon that exposes an
// OpenAI-compatible /v1/chat/completions endpoint (the common case for
// llama.cpp server, Ollama's OpenAI shim, and vLLM).
func NewLocal(cfg OpenAIConfig) Provider {
	return newOpenAICompatible(cfg)
}

func newOpenAICompatible(cfg OpenAIConfig) *openAIProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	opts := []option.RequestOption{
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	} else {
		opts = append(opts, option.WithBaseURL(defaultOpenAIBase))
	}
	return &openAIProvider{
		cfg:    cfg,
		client: openai.NewClient(opts...),
	}
}

func (p *openAIProvider) buildParams(req CompletionRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleUser:
			if len(m.Blocks) > 0 {
				messages = append(messages, openai.UserMessage(toOpenAIParts(m.Blocks)))
			} else {
				messages = append(messages, openai.UserMessage(m.Content))
			}
		case RoleTool:
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			am := openai.AssistantMessage(m.Content)
			for _, tc := range m.ToolCalls {
				am.OfAssistant.ToolCalls = append(am.OfAssistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			messages = append(messages, am)
		}
	}

	tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Function.Name,
				Description: param.NewOpt(t.Function.Description),
				Parameters:  toFunctionParameters(t.Function.Parameters),
			},
		})
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	switch req.ToolChoice.Mode {
	case "none":
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt("none")}
	case "required":
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt("required")}
	case "named":
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionParamOfChatCompletionNamedToolChoice(
			openai.ChatCompletionNamedToolChoiceFunctionParam{Name: req.ToolChoice.Name},
		)
	}
	return params
}

// toOpenAIParts renders a multimodal message as OpenAI content parts. The
// wire shape takes image URLs and data URIs in the same image_url field, so
// no base64 re-encoding is needed on this path.
func toOpenAIParts(blocks []ContentBlock) []openai.ChatCompletionContentPartUnionParam {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "image" {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: b.ImageURL,
			}))
			continue
		}
		parts = append(parts, openai.TextContentPart(b.Text))
	}
	return parts
}

func toFunctionParameters(params interface{}) openai.FunctionParameters {
	if params == nil {
		return openai.FunctionParameters{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return openai.FunctionParameters{}
	}
	var fp openai.FunctionParameters
	_ = json.Unmarshal(raw, &fp)
	return fp
}

// Complete sends a chat completion request and returns the full response.
func (p *openAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	params := p.buildParams(req)
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("llm: openai completion returned no choices")
	}

	choice := resp.Choices[0]
	msg := Message{Role: RoleAssistant, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	return &CompletionResponse{
		Message:      msg,
		FinishReason: string(choice.FinishReason),
		Usage: TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Stream sends a streaming chat completion request, synthesizing tool-call
// argument fragments into onChunk's ToolCallDeltas as they arrive.
func (p *openAIProvider) Stream(ctx context.Context, req CompletionRequest, onChunk func(StreamChunk) error) error {
	params := p.buildParams(req)
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var usage *TokenUsage
	var finish string
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		c := chunk.Choices[0]
		sc := StreamChunk{
			ContentDelta: c.Delta.Content,
			FinishReason: string(c.FinishReason),
		}
		if sc.FinishReason != "" {
			finish = sc.FinishReason
		}
		for _, tc := range c.Delta.ToolCalls {
			sc.ToolCallDeltas = append(sc.ToolCallDeltas, ToolCallDelta{
				Index:          int(tc.Index),
				ID:             tc.ID,
				Name:           tc.Function.Name,
				ArgumentsDelta: tc.Function.Arguments,
			})
		}
		if chunk.Usage.TotalTokens > 0 {
			usage = &TokenUsage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:      int(chunk.Usage.TotalTokens),
			}
		}
		if err := onChunk(sc); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("llm: openai stream: %w", err)
	}
	return onChunk(StreamChunk{Done: true, FinishReason: finish, Usage: usage})
}
