//go:generate go run go.uber.org/mock/mockgen -source=generator.go -destination=mocks/mock_generator.go -package=mocks

// ABOUTME: Text-generation backend contract used by the response pipeline
// ABOUTME: Defines Request/Message and the retryable vs permanent error classification

package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/ollama/ollama/api"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when the backend produced no text.
var ErrEmptyResponse = errors.New("empty response from generation backend")

// Message is one role-tagged chat turn.
type Message struct {
	Role    string
	Content string
}

// Request is a single generation call.
type Request struct {
	SystemPrompt string
	// Messages follow the system prompt; a trailing assistant message is a prefill
	// the backend continues from.
	Messages    []Message
	Temperature float64
	// PersonaName is informational; backends may use it for logging or canned replies.
	PersonaName string
}

// Response is the outcome of one generation call.
type Response struct {
	Text  string
	Model string
	// Token counts as reported by the backend; zero when it does not report them.
	PromptTokens     int
	CompletionTokens int
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// StatusError is an HTTP-level failure from a generation backend.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return http.StatusText(e.StatusCode) + ": " + e.Message
}

// IsRetryable reports whether err is worth another attempt: network errors,
// timeouts, HTTP 5xx and 429. Other 4xx responses, empty responses and
// caller cancellation are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyResponse) {
		return false
	}

	var ollamaStatus api.StatusError
	if errors.As(err, &ollamaStatus) {
		return retryableStatus(ollamaStatus.StatusCode)
	}
	var status *StatusError
	if errors.As(err, &status) {
		return retryableStatus(status.StatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
