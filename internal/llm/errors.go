package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

var (
	// ErrRateLimited marks a provider refusal due to quota or request rate
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidResponse marks a response that does not match the expected record shape
	ErrInvalidResponse = errors.New("invalid response")

	// ErrServiceUnavailable is returned while the circuit breaker is open
	ErrServiceUnavailable = errors.New("service temporarily unavailable")

	// ErrDisabled is returned when no provider is configured
	ErrDisabled = errors.New("no LLM provider configured")
)

// StatusError is a non-200 answer from a provider API
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// HTTPStatusCode exposes the status for classification
func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

// Unwrap lets errors.Is(err, ErrRateLimited) match 429 answers
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return nil
}

// IsRateLimited reports whether err signals a rate-limit condition
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var coded interface{ HTTPStatusCode() int }
	if errors.As(err, &coded) && coded.HTTPStatusCode() == http.StatusTooManyRequests {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted")
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidResponse, fmt.Sprintf(format, args...))
}
