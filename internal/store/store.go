// ABOUTME: Store interface and data types for solipcord persistence
// ABOUTME: Defines Persona, conversation, and Message structs plus the Store interface

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would violate a uniqueness or reference constraint
var ErrConflict = errors.New("conflict")

// ErrInvalidChannel is returned by ParseChannel for malformed channel ids
var ErrInvalidChannel = errors.New("invalid channel")

// ConversationKind distinguishes direct conversations from group chats.
type ConversationKind string

const (
	KindDM    ConversationKind = "dm"
	KindGroup ConversationKind = "group"
)

// ConversationRef points at exactly one conversation.
type ConversationRef struct {
	Kind ConversationKind `json:"kind"`
	ID   string           `json:"id"`
}

// DMRef returns a reference to the direct conversation with the given id.
func DMRef(id string) ConversationRef {
	return ConversationRef{Kind: KindDM, ID: id}
}

// GroupRef returns a reference to the group conversation with the given id.
func GroupRef(id string) ConversationRef {
	return ConversationRef{Kind: KindGroup, ID: id}
}

// Channel returns the namespaced broadcast channel id, e.g. "dm:42".
func (r ConversationRef) Channel() string {
	return string(r.Kind) + ":" + r.ID
}

func (r ConversationRef) String() string {
	return r.Channel()
}

// ParseChannel parses "<type>:<id>" into a ConversationRef.
// The type must be "dm" or "group" and neither part may be empty.
func ParseChannel(channel string) (ConversationRef, error) {
	kind, id, ok := strings.Cut(channel, ":")
	if !ok {
		return ConversationRef{}, fmt.Errorf("%w: missing ':' in %q", ErrInvalidChannel, channel)
	}
	if kind == "" {
		return ConversationRef{}, fmt.Errorf("%w: missing type in %q", ErrInvalidChannel, channel)
	}
	if id == "" {
		return ConversationRef{}, fmt.Errorf("%w: missing id in %q", ErrInvalidChannel, channel)
	}
	switch ConversationKind(kind) {
	case KindDM, KindGroup:
	default:
		return ConversationRef{}, fmt.Errorf("%w: unknown type %q", ErrInvalidChannel, kind)
	}
	return ConversationRef{Kind: ConversationKind(kind), ID: id}, nil
}

// AuthorKind identifies who wrote a message.
type AuthorKind string

const (
	AuthorUser    AuthorKind = "user"
	AuthorPersona AuthorKind = "persona"
)

// MaxGroupParticipants bounds the persona count of a group chat.
const MaxGroupParticipants = 9

// Persona is a non-human participant whose replies are generated.
type Persona struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Avatar      string    `json:"avatar,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DirectConversation is a conversation between the user and one persona.
type DirectConversation struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"personaId"`
	CreatedAt time.Time `json:"createdAt"`
}

// GroupConversation is a named conversation with one to nine personas.
type GroupConversation struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ParticipantIDs []string  `json:"participantIds"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Message is a single chat message. Exactly one conversation is referenced.
type Message struct {
	ID           string          `json:"id"`
	Content      string          `json:"content"`
	AuthorKind   AuthorKind      `json:"authorKind"`
	AuthorID     string          `json:"authorId"`
	Conversation ConversationRef `json:"conversation"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Store defines the persistence operations used by the gateway.
type Store interface {
	// Personas
	CreatePersona(ctx context.Context, p *Persona) error
	GetPersona(ctx context.Context, id string) (*Persona, error)
	ListPersonas(ctx context.Context) ([]*Persona, error)
	DeletePersona(ctx context.Context, id string) error

	// Direct conversations
	CreateDirectConversation(ctx context.Context, dm *DirectConversation) error
	GetDirectConversation(ctx context.Context, id string) (*DirectConversation, error)
	ListDirectConversations(ctx context.Context) ([]*DirectConversation, error)
	DeleteDirectConversation(ctx context.Context, id string) error

	// Group conversations
	CreateGroupConversation(ctx context.Context, g *GroupConversation) error
	GetGroupConversation(ctx context.Context, id string) (*GroupConversation, error)
	ListGroupConversations(ctx context.Context) ([]*GroupConversation, error)
	DeleteGroupConversation(ctx context.Context, id string) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	UpdateMessageContent(ctx context.Context, id, content string, updatedAt time.Time) error
	DeleteMessage(ctx context.Context, id string) error
	// ListMessages returns the most recent limit messages in chronological order.
	ListMessages(ctx context.Context, ref ConversationRef, limit int) ([]*Message, error)

	// GetConversationParticipants returns the persona ids taking part in a conversation.
	GetConversationParticipants(ctx context.Context, ref ConversationRef) ([]string, error)

	Close() error
}

// normalizeLimit applies the default (100) and cap (1000) used by list queries.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
