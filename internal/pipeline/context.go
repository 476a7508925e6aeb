// ABOUTME: Gathers everything a persona needs to reply: profile, recent history, participants
// ABOUTME: History is chronological and labelled with sender display names

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/solipcord/internal/store"
)

// DefaultHistoryLimit is the number of recent messages put in a prompt.
const DefaultHistoryLimit = 50

// Sender names used when an author cannot be resolved to a persona.
const (
	UserDisplayName    = "User"
	UnknownDisplayName = "Unknown"
)

// Participant is one persona taking part in a conversation.
type Participant struct {
	ID          string
	Name        string
	Description string
}

// HistoryEntry is one past message with its sender resolved.
type HistoryEntry struct {
	SenderID   string
	SenderName string
	AuthorKind store.AuthorKind
	Content    string
	CreatedAt  time.Time
}

// Bundle is the input to prompt rendering.
type Bundle struct {
	Persona          *store.Persona
	Conversation     store.ConversationRef
	ConversationName string
	Participants     []Participant
	History          []HistoryEntry
}

// OtherParticipants returns every participant except the responding persona.
func (b *Bundle) OtherParticipants() []Participant {
	out := make([]Participant, 0, len(b.Participants))
	for _, p := range b.Participants {
		if p.ID != b.Persona.ID {
			out = append(out, p)
		}
	}
	return out
}

// ContextBuilder loads conversation context from the store.
type ContextBuilder struct {
	store        store.Store
	historyLimit int
	logger       *slog.Logger
}

// NewContextBuilder creates a builder. A historyLimit of zero uses DefaultHistoryLimit.
func NewContextBuilder(s store.Store, historyLimit int, logger *slog.Logger) *ContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &ContextBuilder{
		store:        s,
		historyLimit: historyLimit,
		logger:       logger.With("component", "context-builder"),
	}
}

// Build assembles the bundle for personaID replying in ref.
func (b *ContextBuilder) Build(ctx context.Context, personaID string, ref store.ConversationRef) (*Bundle, error) {
	persona, err := b.store.GetPersona(ctx, personaID)
	if err != nil {
		return nil, fmt.Errorf("loading persona %s: %w", personaID, err)
	}

	bundle := &Bundle{Persona: persona, Conversation: ref}

	var participantIDs []string
	switch ref.Kind {
	case store.KindDM:
		dm, err := b.store.GetDirectConversation(ctx, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", ref, err)
		}
		participantIDs = []string{dm.PersonaID}
		bundle.ConversationName = persona.Name
		if dm.PersonaID != persona.ID {
			if p, err := b.store.GetPersona(ctx, dm.PersonaID); err == nil {
				bundle.ConversationName = p.Name
			}
		}
	case store.KindGroup:
		g, err := b.store.GetGroupConversation(ctx, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", ref, err)
		}
		participantIDs = g.ParticipantIDs
		bundle.ConversationName = g.Name
	default:
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidChannel, ref.Channel())
	}

	names := map[string]string{persona.ID: persona.Name}
	for _, id := range participantIDs {
		p := persona
		if id != persona.ID {
			p, err = b.store.GetPersona(ctx, id)
			if err != nil {
				// A vanished participant should not silence the others
				b.logger.Warn("participant lookup failed",
					"persona_id", id,
					"channel", ref.Channel(),
					"error", err)
				continue
			}
		}
		names[p.ID] = p.Name
		bundle.Participants = append(bundle.Participants, Participant{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
		})
	}

	msgs, err := b.store.ListMessages(ctx, ref, b.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history for %s: %w", ref, err)
	}
	for _, m := range msgs {
		bundle.History = append(bundle.History, HistoryEntry{
			SenderID:   m.AuthorID,
			SenderName: b.senderName(ctx, m, names),
			AuthorKind: m.AuthorKind,
			Content:    m.Content,
			CreatedAt:  m.CreatedAt,
		})
	}

	b.logger.Debug("context built",
		"persona_id", personaID,
		"channel", ref.Channel(),
		"messages", len(bundle.History),
		"participants", len(bundle.Participants))

	return bundle, nil
}

// senderName resolves a message author, caching persona lookups in names.
func (b *ContextBuilder) senderName(ctx context.Context, m *store.Message, names map[string]string) string {
	if m.AuthorKind == store.AuthorUser {
		return UserDisplayName
	}
	if name, ok := names[m.AuthorID]; ok {
		return name
	}
	name := UnknownDisplayName
	if p, err := b.store.GetPersona(ctx, m.AuthorID); err == nil {
		name = p.Name
	}
	names[m.AuthorID] = name
	return name
}
