package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// geminiProvider implements Provider using the official Gemini SDK.
//
// Gemini's chat turns use role "model" instead of "assistant", carries
// function calls and their results as Parts rather than a parallel array,
// and takes its system prompt as a dedicated field on the model rather than
// a message in the history.
type geminiProvider struct {
	cfg    GeminiConfig
	client *genai.Client
}

// NewGemini returns a Provider backed by the Gemini generateContent API.
// The returned client is not closed by the provider; callers own its
// lifetime via ctx cancellation at process shutdown.
func NewGemini(ctx context.Context, cfg GeminiConfig) (Provider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("llm: gemini client: %w", err)
	}
	return &geminiProvider{cfg: cfg, client: client}, nil
}

func (p *geminiProvider) buildModel(req CompletionRequest) *genai.GenerativeModel {
	name := req.Model
	if name == "" {
		name = p.cfg.Model
	}
	model := p.client.GenerativeModel(name)

	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(m.Content)}}
			break
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema := toGeminiSchema(t.Function.Parameters)
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  schema,
			})
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		model.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		max := int32(req.MaxTokens)
		model.MaxOutputTokens = &max
	}
	return model
}

func toGeminiSchema(params interface{}) *genai.Schema {
	if params == nil {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	var schema genai.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	return &schema
}

// toHistoryAndFinal splits the non-system messages into prior turns (history)
// and the final user/tool turn to send, which is how genai.ChatSession works.
func toHistoryAndFinal(messages []Message) ([]*genai.Content, []genai.Part) {
	var history []*genai.Content
	var pending []genai.Part
	var pendingRole string

	flush := func() {
		if len(pending) == 0 {
			return
		}
		history = append(history, &genai.Content{Role: pendingRole, Parts: pending})
		pending = nil
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			continue
		case RoleUser:
			flush()
			pendingRole = "user"
			if len(m.Blocks) > 0 {
				pending = toGeminiParts(m.Blocks)
			} else {
				pending = []genai.Part{genai.Text(m.Content)}
			}
		case RoleAssistant:
			flush()
			pendingRole = "model"
			var parts []genai.Part
			if m.Content != "" {
				parts = append(parts, genai.Text(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]interface{}
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				parts = append(parts, genai.FunctionCall{Name: tc.Function.Name, Args: args})
			}
			pending = parts
		case RoleTool:
			flush()
			pendingRole = "function"
			var response map[string]interface{}
			if err := json.Unmarshal([]byte(m.Content), &response); err != nil {
				response = map[string]interface{}{"result": m.Content}
			}
			pending = []genai.Part{genai.FunctionResponse{Name: m.Name, Response: response}}
		}
	}
	flush()

	if len(history) == 0 {
		return nil, nil
	}
	last := history[len(history)-1]
	return history[:len(history)-1], last.Parts
}

// toGeminiParts renders a multimodal message as Gemini parts. Inline image
// bytes travel as a Blob (the wire's inlineData part), so a data: URI's
// base64 payload is decoded here; a plain URL has no inline bytes to send
// and falls back to a text part carrying the URL.
func toGeminiParts(blocks []ContentBlock) []genai.Part {
	parts := make([]genai.Part, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "image" {
			if mime, payload, ok := ParseDataURI(b.ImageURL); ok {
				if raw, err := base64.StdEncoding.DecodeString(payload); err == nil {
					parts = append(parts, genai.Blob{MIMEType: mime, Data: raw})
					continue
				}
			}
			parts = append(parts, genai.Text(b.ImageURL))
			continue
		}
		parts = append(parts, genai.Text(b.Text))
	}
	return parts
}

// Complete sends a non-streaming generateContent request.
func (p *geminiProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := p.buildModel(req)
	history, final := toHistoryAndFinal(req.Messages)
	cs := model.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, final...)
	if err != nil {
		return nil, fmt.Errorf("llm: gemini completion: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, errors.New("llm: gemini completion returned no candidates")
	}

	msg := Message{Role: RoleAssistant}
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				msg.Content += string(v)
			case genai.FunctionCall:
				args, _ := json.Marshal(v.Args)
				msg.ToolCalls = append(msg.ToolCalls, ToolCall{
					ID:   v.Name,
					Type: "function",
					Function: FunctionCall{
						Name:      v.Name,
						Arguments: string(args),
					},
				})
			}
		}
	}

	finish := "stop"
	if len(msg.ToolCalls) > 0 {
		finish = "tool_calls"
	}

	usage := TokenUsage{}
	if resp.UsageMetadata != nil {
		usage = TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return &CompletionResponse{Message: msg, FinishReason: finish, Usage: usage}, nil
}

// Stream sends a streaming generateContent request.
func (p *geminiProvider) Stream(ctx context.Context, req CompletionRequest, onChunk func(StreamChunk) error) error {
	model := p.buildModel(req)
	history, final := toHistoryAndFinal(req.Messages)
	cs := model.StartChat()
	cs.History = history

	iter := cs.SendMessageStream(ctx, final...)
	var usage TokenUsage
	toolIndex := 0
	for {
		resp, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return fmt.Errorf("llm: gemini stream: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				if err := onChunk(StreamChunk{ContentDelta: string(v)}); err != nil {
					return err
				}
			case genai.FunctionCall:
				args, _ := json.Marshal(v.Args)
				if err := onChunk(StreamChunk{ToolCallDeltas: []ToolCallDelta{{
					Index:          toolIndex,
					ID:             v.Name,
					Name:           v.Name,
					ArgumentsDelta: string(args),
				}}}); err != nil {
					return err
				}
				toolIndex++
			}
		}
		if resp.UsageMetadata != nil {
			usage = TokenUsage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
			}
		}
	}
	finish := "stop"
	if toolIndex > 0 {
		finish = "tool_calls"
	}
	return onChunk(StreamChunk{Done: true, FinishReason: finish, Usage: &usage})
}

// Close releases the underlying Gemini client connection.
func (p *geminiProvider) Close() error {
	return p.client.Close()
}
