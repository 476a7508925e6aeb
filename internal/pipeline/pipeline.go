// ABOUTME: Produces and posts one persona reply for a conversation
// ABOUTME: Build context, render prompt, generate, sanitize, then post through the message service

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/solipcord/internal/conversation"
	"github.com/2389/solipcord/internal/llm"
	"github.com/2389/solipcord/internal/metrics"
	"github.com/2389/solipcord/internal/store"
)

// DefaultTemperature is the sampling temperature for persona replies.
const DefaultTemperature = 0.7

// ErrEmptyReply is returned when nothing is left after sanitizing. Nothing is posted.
var ErrEmptyReply = errors.New("reply was empty after sanitizing")

// MessageCreator posts messages. conversation.Service implements it.
type MessageCreator interface {
	CreateMessage(ctx context.Context, req conversation.CreateMessageRequest) (*store.Message, error)
}

// Pipeline generates persona replies.
type Pipeline struct {
	builder     *ContextBuilder
	generator   llm.Generator
	creator     MessageCreator
	log         store.GenerationLogStore
	temperature float64
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float64) Option {
	return func(p *Pipeline) { p.temperature = t }
}

// WithGenerationLog records every generation in log.
func WithGenerationLog(log store.GenerationLogStore) Option {
	return func(p *Pipeline) { p.log = log }
}

// New creates a pipeline. Pass nil logger for default.
func New(builder *ContextBuilder, generator llm.Generator, creator MessageCreator, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		builder:     builder,
		generator:   generator,
		creator:     creator,
		temperature: DefaultTemperature,
		logger:      logger.With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Respond generates personaID's reply in ref and posts it as a persona message.
func (p *Pipeline) Respond(ctx context.Context, personaID string, ref store.ConversationRef) (*store.Message, error) {
	start := time.Now()
	entry := &store.GenerationLog{
		ID:           uuid.New().String(),
		PersonaID:    personaID,
		Conversation: ref,
		Temperature:  p.temperature,
		CreatedAt:    start.UTC(),
	}

	msg, err := p.respond(ctx, personaID, ref, entry)

	status := outcome(err)
	metrics.Generations.WithLabelValues(string(status)).Inc()
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())

	entry.Status = status
	entry.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		entry.Error = err.Error()
	} else {
		entry.MessageID = msg.ID
	}
	p.record(ctx, entry)

	if err != nil {
		return nil, err
	}
	p.logger.Info("persona replied",
		"persona_id", personaID,
		"channel", ref.Channel(),
		"message_id", msg.ID,
		"duration", time.Since(start))
	return msg, nil
}

func outcome(err error) store.GenerationStatus {
	switch {
	case err == nil:
		return store.GenerationSuccess
	case errors.Is(err, ErrEmptyReply), errors.Is(err, llm.ErrEmptyResponse):
		return store.GenerationEmpty
	case errors.Is(err, context.DeadlineExceeded):
		return store.GenerationTimeout
	case errors.Is(err, context.Canceled):
		return store.GenerationCanceled
	default:
		return store.GenerationError
	}
}

// record saves entry to the generation log. Failures are logged only.
func (p *Pipeline) record(ctx context.Context, entry *store.GenerationLog) {
	if p.log == nil {
		return
	}
	// The generation context may already be done on timeout or cancel
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := p.log.SaveGenerationLog(ctx, entry); err != nil {
		p.logger.Warn("saving generation log failed",
			"persona_id", entry.PersonaID,
			"channel", entry.Conversation.Channel(),
			"error", err)
	}
}

func (p *Pipeline) respond(ctx context.Context, personaID string, ref store.ConversationRef, entry *store.GenerationLog) (*store.Message, error) {
	bundle, err := p.builder.Build(ctx, personaID, ref)
	if err != nil {
		return nil, fmt.Errorf("building context: %w", err)
	}

	prompt, err := Render(bundle)
	if err != nil {
		return nil, fmt.Errorf("rendering prompt: %w", err)
	}
	entry.SystemPrompt = prompt.System
	entry.Prompt = prompt.User

	res, err := p.generator.Generate(ctx, llm.Request{
		SystemPrompt: prompt.System,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt.User},
			{Role: llm.RoleAssistant, Content: prompt.Prefill},
		},
		Temperature: p.temperature,
		PersonaName: bundle.Persona.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("generating reply for %s: %w", personaID, err)
	}
	entry.Model = res.Model
	entry.Response = res.Text
	entry.PromptTokens = res.PromptTokens
	entry.CompletionTokens = res.CompletionTokens

	text := Sanitize(res.Text)
	if text == "" {
		p.logger.Warn("discarding empty reply",
			"persona_id", personaID,
			"channel", ref.Channel(),
			"raw_length", len(res.Text))
		return nil, ErrEmptyReply
	}

	req := conversation.CreateMessageRequest{
		Content:    text,
		AuthorKind: store.AuthorPersona,
		AuthorID:   personaID,
	}
	if ref.Kind == store.KindDM {
		req.DirectMessageID = ref.ID
	} else {
		req.GroupID = ref.ID
	}

	msg, err := p.creator.CreateMessage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("posting reply: %w", err)
	}
	return msg, nil
}
