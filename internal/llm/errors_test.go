package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

type codedErr struct{ code int }

func (e codedErr) Error() string       { return "upstream failure" }
func (e codedErr) HTTPStatusCode() int { return e.code }

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", fmt.Errorf("metadata: %w", ErrRateLimited), true},
		{"status error 429", &StatusError{Provider: "anthropic", StatusCode: 429}, true},
		{"status error 500", &StatusError{Provider: "anthropic", StatusCode: 500}, false},
		{"http status code interface", fmt.Errorf("wrapped: %w", codedErr{code: 429}), true},
		{"openai api error", fmt.Errorf("OpenAI API error: %w", &openai.APIError{HTTPStatusCode: 429, Message: "quota"}), true},
		{"openai request error", &openai.RequestError{HTTPStatusCode: 429, Err: errors.New("too many")}, true},
		{"message heuristic", errors.New("googleapi: Error 429: Resource has been exhausted"), true},
		{"unrelated", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimited(tt.err))
		})
	}
}
