// ABOUTME: Service is the single write path for chat messages
// ABOUTME: Persist first, then emit the lifecycle event, then broadcast to live clients

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/2389/solipcord/internal/broadcast"
	"github.com/2389/solipcord/internal/events"
	"github.com/2389/solipcord/internal/store"
)

// DefaultMessageLimit is used when ListMessages is called without a limit.
const DefaultMessageLimit = 50

// DefaultUserID is the author id recorded for user messages that carry none.
const DefaultUserID = "user"

// LifecycleNotifier is told when conversations appear or disappear so that
// responders can be attached or detached.
type LifecycleNotifier interface {
	ConversationCreated(ctx context.Context, ref store.ConversationRef)
	ConversationDeleted(ref store.ConversationRef)
}

// Service owns message, persona and conversation writes.
type Service struct {
	store    store.Store
	bus      *events.Bus
	channels *broadcast.Channels
	notifier LifecycleNotifier
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Service. Pass nil logger for default.
func New(s store.Store, bus *events.Bus, channels *broadcast.Channels, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		bus:      bus,
		channels: channels,
		validate: newValidator(),
		logger:   logger.With("component", "conversation"),
		now:      time.Now,
	}
}

// SetLifecycleNotifier installs the notifier. Call it before serving requests.
func (s *Service) SetLifecycleNotifier(n LifecycleNotifier) {
	s.notifier = n
}

// CreateMessageRequest is the input to CreateMessage. Exactly one of
// DirectMessageID and GroupID must be set.
type CreateMessageRequest struct {
	Content         string           `json:"content" validate:"required"`
	AuthorKind      store.AuthorKind `json:"authorKind" validate:"required,oneof=user persona"`
	AuthorID        string           `json:"authorId" validate:"required_if=AuthorKind persona"`
	DirectMessageID string           `json:"directMessageId" validate:"required_without=GroupID,excluded_with=GroupID"`
	GroupID         string           `json:"groupId" validate:"required_without=DirectMessageID,excluded_with=DirectMessageID"`
}

// Ref returns the conversation the request targets.
func (r CreateMessageRequest) Ref() store.ConversationRef {
	if r.DirectMessageID != "" {
		return store.DMRef(r.DirectMessageID)
	}
	return store.GroupRef(r.GroupID)
}

// DeletionMarker is broadcast in place of a message that was removed.
type DeletionMarker struct {
	Type      string    `json:"type"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// CreateMessage validates, persists, emits Created and broadcasts the message.
// Nothing is emitted or broadcast when validation or persistence fails.
func (s *Service) CreateMessage(ctx context.Context, req CreateMessageRequest) (*store.Message, error) {
	req.Content = strings.TrimSpace(req.Content)
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if req.AuthorKind == store.AuthorUser && req.AuthorID == "" {
		req.AuthorID = DefaultUserID
	}

	ref := req.Ref()
	var dm *store.DirectConversation
	switch ref.Kind {
	case store.KindDM:
		var err error
		dm, err = s.store.GetDirectConversation(ctx, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", ref, err)
		}
	case store.KindGroup:
		if _, err := s.store.GetGroupConversation(ctx, ref.ID); err != nil {
			return nil, fmt.Errorf("loading %s: %w", ref, err)
		}
	}

	now := s.now().UTC()
	msg := &store.Message{
		ID:           uuid.New().String(),
		Content:      req.Content,
		AuthorKind:   req.AuthorKind,
		AuthorID:     req.AuthorID,
		Conversation: ref,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	s.logger.Debug("message created",
		"message_id", msg.ID,
		"channel", ref.Channel(),
		"author_kind", msg.AuthorKind,
		"author_id", msg.AuthorID)

	s.bus.EmitCreated(events.Created{
		Message:      msg,
		Conversation: events.ContextFor(ref, dm),
	})
	s.channels.Broadcast(ref, NewMessageView(msg))

	return msg, nil
}

// UpdateMessage replaces a message's content and emits Updated.
func (s *Service) UpdateMessage(ctx context.Context, id, content string) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrValidation)
	}

	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading message %s: %w", id, err)
	}
	previous := msg.Content

	// Resolved before the write so a stored update is always announced
	conv, err := s.eventContext(ctx, msg.Conversation)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.store.UpdateMessageContent(ctx, id, content, now); err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	msg.Content = content
	msg.UpdatedAt = now

	s.bus.EmitUpdated(events.Updated{
		Message:         msg,
		PreviousContent: previous,
		Conversation:    conv,
	})

	return msg, nil
}

// DeleteMessage removes a message, emits Deleted and broadcasts a deletion marker.
func (s *Service) DeleteMessage(ctx context.Context, id string) error {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("loading message %s: %w", id, err)
	}
	ref := msg.Conversation
	conv, err := s.eventContext(ctx, ref)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMessage(ctx, id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	s.bus.EmitDeleted(events.Deleted{MessageID: id, Conversation: conv})
	s.channels.Broadcast(ref, DeletionMarker{
		Type:      "message_deleted",
		MessageID: id,
		Timestamp: s.now().UTC(),
	})

	s.logger.Debug("message deleted", "message_id", id, "channel", ref.Channel())
	return nil
}

// GetMessage returns one message.
func (s *Service) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	return s.store.GetMessage(ctx, id)
}

// ListMessages returns up to limit recent messages of a conversation in
// chronological order.
func (s *Service) ListMessages(ctx context.Context, ref store.ConversationRef, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if _, err := s.store.GetConversationParticipants(ctx, ref); err != nil {
		return nil, fmt.Errorf("loading %s: %w", ref, err)
	}
	return s.store.ListMessages(ctx, ref, limit)
}

// eventContext builds the conversation context, loading the DM snapshot.
func (s *Service) eventContext(ctx context.Context, ref store.ConversationRef) (events.Conversation, error) {
	if ref.Kind != store.KindDM {
		return events.ContextFor(ref, nil), nil
	}
	dm, err := s.store.GetDirectConversation(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", ref, err)
	}
	return events.ContextFor(ref, dm), nil
}
