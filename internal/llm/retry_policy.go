package llm

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/api/googleapi"
)

// isRetryableProviderError classifies a provider error for the multiplexer's
// per-provider retry loop. It is deliberately conservative: a status the
// upstream API marks as a permanent client error (bad request, invalid
// model, auth failure) is never worth retrying within the same provider,
// since retry.Config's backoff will just waste the request's deadline before
// Complete/Stream falls over to the next provider anyway. Transient and
// unrecognized errors (network blips, 5xx, rate limiting) stay retryable,
// matching retry.Do's previous default-all-retry behaviour.
func isRetryableProviderError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return isRetryableStatus(openaiErr.StatusCode)
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return isRetryableStatus(anthropicErr.StatusCode)
	}

	var googleErr *googleapi.Error
	if errors.As(err, &googleErr) {
		return isRetryableStatus(googleErr.Code)
	}

	return true
}

// isRetryableStatus treats 429 (rate limited) and any 5xx as transient;
// every other 4xx (bad request, unauthorized, not found, ...) is permanent
// for the lifetime of a single request and won't succeed on a bare retry.
func isRetryableStatus(code int) bool {
	if code == 429 {
		return true
	}
	return code >= 500 && code < 600
}
