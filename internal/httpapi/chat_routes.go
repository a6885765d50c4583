package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/torbobase/torbo-base/common/trace"
	"github.com/torbobase/torbo-base/internal/audit"
	"github.com/torbobase/torbo-base/internal/llm"
	"github.com/torbobase/torbo-base/internal/toolloop"
)

// chatContent is a message's content, which the OpenAI shape allows to be
// either a plain string or an ordered array of typed blocks ({"type":
// "text"|"image_url", ...}) for vision requests. It round-trips: a
// block-less message marshals back out as a bare string, matching what a
// client that only ever sends text expects to see echoed.
type chatContent struct {
	Text   string
	Blocks []llm.ContentBlock
}

func (c *chatContent) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		c.Text = asString
		c.Blocks = nil
		return nil
	}

	var rawBlocks []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL struct {
			URL string `json:"url"`
		} `json:"image_url"`
	}
	if err := json.Unmarshal(data, &rawBlocks); err != nil {
		return fmt.Errorf("httpapi: invalid message content: %w", err)
	}
	blocks := make([]llm.ContentBlock, 0, len(rawBlocks))
	for _, b := range rawBlocks {
		switch b.Type {
		case "image_url":
			blocks = append(blocks, llm.ContentBlock{Type: "image", ImageURL: b.ImageURL.URL})
		default:
			blocks = append(blocks, llm.ContentBlock{Type: "text", Text: b.Text})
		}
	}
	c.Blocks = blocks
	return nil
}

func (c chatContent) MarshalJSON() ([]byte, error) {
	if len(c.Blocks) == 0 {
		return json.Marshal(c.Text)
	}
	type wireBlock struct {
		Type     string `json:"type"`
		Text     string `json:"text,omitempty"`
		ImageURL *struct {
			URL string `json:"url"`
		} `json:"image_url,omitempty"`
	}
	out := make([]wireBlock, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		if b.Type == "image" {
			out = append(out, wireBlock{Type: "image_url", ImageURL: &struct {
				URL string `json:"url"`
			}{URL: b.ImageURL}})
			continue
		}
		out = append(out, wireBlock{Type: "text", Text: b.Text})
	}
	return json.Marshal(out)
}

// chatToolChoice accepts the OpenAI tool_choice shapes: the bare strings
// "auto"/"none"/"required", or {"type":"function","function":{"name":...}}
// forcing one specific tool regardless of what the model would pick on its
// own.
type chatToolChoice struct {
	llm.ToolChoice
}

func (c *chatToolChoice) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		switch asString {
		case "", "auto":
			c.Mode = "auto"
		case "none", "required":
			c.Mode = asString
		default:
			return fmt.Errorf("httpapi: unrecognized tool_choice %q", asString)
		}
		return nil
	}

	var named struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &named); err != nil {
		return fmt.Errorf("httpapi: invalid tool_choice: %w", err)
	}
	c.Mode = "named"
	c.Name = named.Function.Name
	return nil
}

// chatMessage is the external, OpenAI-shape message format accepted in a
// request and echoed back in a response.
type chatMessage struct {
	Role    string      `json:"role"`
	Content chatContent `json:"content"`
}

// chatCompletionRequest mirrors the subset of the OpenAI chat completions
// request body this gateway understands. Tool definitions are never
// accepted from the client: the available tool catalogue is entirely a
// function of the calling agent's access level and category toggles, so
// the tool loop injects it server-side on every call.
type chatCompletionRequest struct {
	Model       string         `json:"model"`
	Messages    []chatMessage  `json:"messages"`
	Stream      bool           `json:"stream"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
	ToolChoice  chatToolChoice `json:"tool_choice"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID                string         `json:"id"`
	Object            string         `json:"object"`
	Created           int64          `json:"created"`
	Model             string         `json:"model"`
	Choices           []chatChoice   `json:"choices"`
	Usage             llm.TokenUsage `json:"usage"`
	ToolLoopTruncated bool           `json:"toolLoopTruncated,omitempty"`
}

type chatStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type chatStreamChoice struct {
	Index        int             `json:"index"`
	Delta        chatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type chatCompletionChunk struct {
	ID                string             `json:"id"`
	Object            string             `json:"object"`
	Created           int64              `json:"created"`
	Model             string             `json:"model"`
	Choices           []chatStreamChoice `json:"choices"`
	ToolLoopTruncated bool               `json:"toolLoopTruncated,omitempty"`
}

// applyProviderOverride pins model to the provider named by the
// x-torbo-provider header, unless the client already pinned a provider
// explicitly via a "provider:model" prefix, which always wins.
func applyProviderOverride(model, override string) string {
	if override == "" {
		return model
	}
	if _, _, pinned := llm.ResolveModel(model); pinned {
		return model
	}
	return override + ":" + model
}

func toInternalMessages(in []chatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(in))
	for _, m := range in {
		out = append(out, llm.Message{Role: llm.Role(m.Role), Content: m.Content.Text, Blocks: m.Content.Blocks})
	}
	return out
}

// acquireProvider bounds the number of concurrent in-flight provider calls.
// A caller that can't get a slot within providerQueueTimeout gets a 503
// rather than piling up behind an overloaded backend indefinitely.
func (s *Server) acquireProvider(ctx context.Context) (release func(), err error) {
	select {
	case s.providerSem <- struct{}{}:
		return func() { <-s.providerSem }, nil
	case <-time.After(providerQueueTimeout):
		return nil, fmt.Errorf("httpapi: provider queue timed out after %s", providerQueueTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	agentID := agentIDFrom(r.Context())
	internalReq := llm.CompletionRequest{
		Model:       applyProviderOverride(req.Model, providerOverrideFrom(r.Context())),
		Messages:    toInternalMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		ToolChoice:  req.ToolChoice.ToolChoice,
	}

	release, err := s.acquireProvider(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "provider capacity exhausted, try again shortly")
		return
	}
	defer release()

	if req.Stream {
		s.streamChatCompletion(w, r, agentID, internalReq)
		return
	}
	s.nonStreamChatCompletion(w, r, agentID, internalReq)
}

func (s *Server) nonStreamChatCompletion(w http.ResponseWriter, r *http.Request, agentID string, req llm.CompletionRequest) {
	recorder := &llm.ChainRecorder{}
	ctx := llm.WithChainRecorder(r.Context(), recorder)

	outcome, err := s.loop.Run(ctx, agentID, req)
	if err != nil {
		writeProviderError(w, req.Model, err)
		return
	}
	s.recordProviderChain(r, recorder)

	resp := chatCompletionResponse{
		ID:      "chatcmpl-" + randomSuffix(),
		Object:  "chat.completion",
		Created: currentUnixTime(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Index:        0,
			Message:      chatMessage{Role: string(outcome.Response.Message.Role), Content: chatContent{Text: outcome.Response.Message.Content}},
			FinishReason: outcome.Response.FinishReason,
		}},
		Usage:             outcome.Response.Usage,
		ToolLoopTruncated: outcome.Truncated,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) streamChatCompletion(w http.ResponseWriter, r *http.Request, agentID string, req llm.CompletionRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported by this transport")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	id := "chatcmpl-" + randomSuffix()
	created := currentUnixTime()
	bw := bufio.NewWriter(w)

	recorder := &llm.ChainRecorder{}
	ctx := llm.WithChainRecorder(r.Context(), recorder)

	err := s.loop.Stream(ctx, agentID, req, func(c toolloop.StreamChunk) error {
		chunk := chatCompletionChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: req.Model}
		if c.ContentDelta != "" {
			chunk.Choices = []chatStreamChoice{{Index: 0, Delta: chatStreamDelta{Content: c.ContentDelta}}}
		}
		if c.Done {
			reason := c.FinishReason
			chunk.Choices = []chatStreamChoice{{Index: 0, Delta: chatStreamDelta{}, FinishReason: &reason}}
			chunk.ToolLoopTruncated = c.Truncated
		}
		if err := writeSSEChunk(bw, chunk); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// The stream has already started; an SSE-framed error event is the
		// only way left to surface the failure to the client.
		_, _ = fmt.Fprintf(bw, "event: error\ndata: %s\n\n", jsonErrorPayload(err))
		bw.Flush()
		flusher.Flush()
		return
	}
	s.recordProviderChain(r, recorder)

	_, _ = bw.WriteString("data: [DONE]\n\n")
	bw.Flush()
	flusher.Flush()
}

func writeSSEChunk(bw *bufio.Writer, chunk chatCompletionChunk) error {
	raw, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := bw.WriteString("data: "); err != nil {
		return err
	}
	if _, err := bw.Write(raw); err != nil {
		return err
	}
	_, err = bw.WriteString("\n\n")
	return err
}

func jsonErrorPayload(err error) string {
	raw, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(raw)
}

func writeProviderError(w http.ResponseWriter, model string, err error) {
	writeJSON(w, http.StatusBadGateway, map[string]interface{}{
		"error":     err.Error(),
		"provider":  providerNameFromModel(model),
		"retryable": true,
	})
}

// randomSuffix returns a short unique-enough identifier for a completion ID,
// reusing the trace package's CSPRNG rather than rolling another one.
func randomSuffix() string {
	id := trace.GenerateID()
	if len(id) > 12 {
		return id[len(id)-12:]
	}
	return id
}

func currentUnixTime() int64 {
	return time.Now().Unix()
}

// recordProviderChain appends a supplementary audit entry when a completion
// only succeeded after failing over across more than one provider, so the
// audit log can distinguish "answered by the pinned/first-choice provider"
// from "answered only after local/remote fallback".
func (s *Server) recordProviderChain(r *http.Request, recorder *llm.ChainRecorder) {
	chain := recorder.Chain()
	if chain == "" {
		return
	}
	s.auditLog.Append(audit.Entry{
		Timestamp:     time.Now().UTC(),
		TraceID:       trace.FromContext(r.Context()),
		ClientIP:      clientIPOf(r),
		Method:        r.Method,
		Path:          r.URL.Path,
		DeviceID:      deviceIDFrom(r.Context()),
		Granted:       true,
		ProviderChain: chain,
	})
}

func providerNameFromModel(model string) string {
	for i := 0; i < len(model); i++ {
		if model[i] == ':' {
			return model[:i]
		}
	}
	return "auto"
}
