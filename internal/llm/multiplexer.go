package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/torbobase/torbo-base/common/observability"
	"github.com/torbobase/torbo-base/common/retry"
)

// Named provider keys, used both as config keys and as model-name prefixes
// ("openai:gpt-4o" routes to the "openai" entry).
const (
	ProviderLocal     = "local"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// DefaultFallbackOrder is the order providers are tried when a request's
// model has no recognizable prefix and the local daemon is unavailable or
// errors out. Local is always tried first: it is free, has no rate limit,
// and keeps the request off the network entirely.
var DefaultFallbackOrder = []string{ProviderLocal, ProviderOpenAI, ProviderAnthropic, ProviderGemini}

// chainRecorderKey is the context key a ChainRecorder is attached under, so
// Complete/Stream can report which providers they tried without widening
// either method's return signature.
type chainRecorderKey struct{}

// ChainRecorder collects the provider names attempted for a single request,
// in order, so a caller (the audit log) can record a failover chain like
// "local->openai" when the first provider tried didn't answer.
type ChainRecorder struct {
	tried []string
}

// WithChainRecorder attaches r to ctx. Pass the returned context into
// Complete/Stream, then read r.Chain() afterward.
func WithChainRecorder(ctx context.Context, r *ChainRecorder) context.Context {
	return context.WithValue(ctx, chainRecorderKey{}, r)
}

func recordAttempt(ctx context.Context, provider string) {
	if r, ok := ctx.Value(chainRecorderKey{}).(*ChainRecorder); ok {
		r.tried = append(r.tried, provider)
	}
}

// Chain renders the attempted providers as "p1->p2->p3", or "" if only one
// (or zero) providers were ever tried.
func (r *ChainRecorder) Chain() string {
	if r == nil || len(r.tried) < 2 {
		return ""
	}
	return strings.Join(r.tried, "->")
}

// Multiplexer selects a Provider for each request by model prefix and fails
// over to the next provider in FallbackOrder when the selected one errors.
type Multiplexer struct {
	providers     map[string]Provider
	fallbackOrder []string
	retryCfg      retry.Config
	logger        *slog.Logger
}

// NewMultiplexer returns a Multiplexer over the given named providers.
// Providers absent from the map are simply skipped during fallback.
func NewMultiplexer(providers map[string]Provider, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		providers:     providers,
		fallbackOrder: DefaultFallbackOrder,
		retryCfg: retry.Config{
			MaxAttempts:  2,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			ShouldRetry:  isRetryableProviderError,
		},
		logger: logger,
	}
}

// ProviderNames returns the configured providers in fallback order, for
// status reporting.
func (m *Multiplexer) ProviderNames() []string {
	out := make([]string, 0, len(m.providers))
	for _, name := range m.fallbackOrder {
		if _, ok := m.providers[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// WithFallbackOrder overrides the default try order.
func (m *Multiplexer) WithFallbackOrder(order []string) *Multiplexer {
	m.fallbackOrder = order
	return m
}

// IsKnownProvider reports whether name is one of the providers the
// multiplexer recognizes, for validating a client-supplied override header
// before using it to pin a request.
func IsKnownProvider(name string) bool {
	switch name {
	case ProviderLocal, ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		return true
	default:
		return false
	}
}

// ResolveModel splits a "provider:model" name into its provider key and bare
// model name. A name with no colon, or whose prefix is not a known provider,
// is not pinned and goes through the fallback order. Exported so
// internal/httpapi can tell whether a client already pinned a provider
// explicitly before applying the x-torbo-provider override header.
func ResolveModel(model string) (provider, bare string, pinned bool) {
	if idx := strings.IndexByte(model, ':'); idx > 0 {
		p := model[:idx]
		if IsKnownProvider(p) {
			return p, model[idx+1:], true
		}
	}
	return "", model, false
}

// order returns the providers to attempt, in order, for a given request.
func (m *Multiplexer) order(model string) ([]string, string) {
	provider, bare, pinned := ResolveModel(model)
	if pinned {
		return []string{provider}, bare
	}
	return m.fallbackOrder, model
}

// Complete tries providers in order until one succeeds.
func (m *Multiplexer) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	order, bare := m.order(req.Model)
	req.Model = bare

	var lastErr error
	for _, name := range order {
		p, ok := m.providers[name]
		if !ok {
			continue
		}
		recordAttempt(ctx, name)
		var resp *CompletionResponse
		err := retry.Do(ctx, m.retryCfg, func() error {
			var attemptErr error
			resp, attemptErr = p.Complete(ctx, req)
			return attemptErr
		})
		if err == nil {
			return resp, nil
		}
		observability.WithTraceLogger(ctx, m.logger).WarnContext(ctx, "provider completion failed, trying next", "provider", name, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		return nil, fmt.Errorf("llm: no provider available for model %q", req.Model)
	}
	return nil, fmt.Errorf("llm: all providers failed: %w", lastErr)
}

// Stream tries providers in order, falling back only if the provider errors
// before delivering any chunk (a stream already in flight is never replayed
// on a different backend).
func (m *Multiplexer) Stream(ctx context.Context, req CompletionRequest, onChunk func(StreamChunk) error) error {
	order, bare := m.order(req.Model)
	req.Model = bare

	var lastErr error
	for _, name := range order {
		p, ok := m.providers[name]
		if !ok {
			continue
		}
		recordAttempt(ctx, name)
		started := false
		err := p.Stream(ctx, req, func(c StreamChunk) error {
			started = true
			return onChunk(c)
		})
		if err == nil {
			return nil
		}
		if started {
			return fmt.Errorf("llm: provider %q failed mid-stream: %w", name, err)
		}
		observability.WithTraceLogger(ctx, m.logger).WarnContext(ctx, "provider stream failed before first chunk, trying next", "provider", name, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		return fmt.Errorf("llm: no provider available for model %q", req.Model)
	}
	return fmt.Errorf("llm: all providers failed: %w", lastErr)
}
