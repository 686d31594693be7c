package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Message represents a chat message in a conversation.
type Message struct {
	Role    string `json:"role"` // user | assistant
	Content string `json:"content"`
}

// Request is a provider-neutral completion request. System is carried
// separately because some wire protocols (Anthropic) take it out of band.
type Request struct {
	Model    string
	System   string
	Messages []Message
}

// Response represents a complete response from an LLM provider.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption for a request/response pair.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// APIError is a non-2xx response from a provider, preserving the HTTP
// status so callers can classify rate limits without string matching.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Body)
}

// IsRateLimited classifies an error as a rate-limit condition, either by
// explicit status or by message pattern for providers that bury the
// condition in a 400-class body.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "429")
}
