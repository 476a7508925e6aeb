// ABOUTME: Generator backed by an Ollama server's chat endpoint
// ABOUTME: Non-streaming; the final frame carries the full assistant message

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// Ollama generates text with an Ollama chat model.
type Ollama struct {
	client *api.Client
	model  string
	logger *slog.Logger
}

// NewOllama creates a client for the server at baseURL. A nil httpClient uses http.DefaultClient.
func NewOllama(baseURL, model string, httpClient *http.Client, logger *slog.Logger) (*Ollama, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing ollama url %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Ollama{
		client: api.NewClient(u, httpClient),
		model:  model,
		logger: logger.With("component", "ollama", "model", model),
	}, nil
}

// Generate sends the system prompt followed by req.Messages.
func (o *Ollama) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := make([]api.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
		},
	}

	var final api.ChatResponse
	err := o.client.Chat(ctx, chatReq, func(res api.ChatResponse) error {
		// Only the final frame matters when streaming is off
		if res.Done {
			final = res
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat request failed for model %s: %w", o.model, err)
	}

	if final.DoneReason == "error" {
		return nil, fmt.Errorf("ollama generation error for model %s: %s", o.model, final.Message.Content)
	}
	content := final.Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyResponse
	}

	o.logger.Debug("generation complete",
		"persona", req.PersonaName,
		"content_length", len(content),
		"done_reason", final.DoneReason,
		"prompt_tokens", final.PromptEvalCount,
		"completion_tokens", final.EvalCount)

	model := final.Model
	if model == "" {
		model = o.model
	}
	return &Response{
		Text:             content,
		Model:            model,
		PromptTokens:     final.PromptEvalCount,
		CompletionTokens: final.EvalCount,
	}, nil
}
