// ABOUTME: Message lifecycle event payloads (created/updated/deleted)
// ABOUTME: Each payload carries a sealed DM-or-Group conversation context

package events

import (
	"github.com/2389/solipcord/internal/store"
)

// Name identifies an event stream on the bus.
type Name string

const (
	MessageCreated Name = "message:created"
	MessageUpdated Name = "message:updated"
	MessageDeleted Name = "message:deleted"

	DMMessageCreated Name = "dm:message:created"
	DMMessageUpdated Name = "dm:message:updated"
	DMMessageDeleted Name = "dm:message:deleted"

	GroupMessageCreated Name = "group:message:created"
	GroupMessageUpdated Name = "group:message:updated"
	GroupMessageDeleted Name = "group:message:deleted"
)

// Conversation is either a DMContext or a GroupContext.
type Conversation interface {
	Ref() store.ConversationRef
	isConversation()
}

// DMContext identifies a direct conversation and carries a snapshot of it,
// so listeners do not need to look the persona up again.
type DMContext struct {
	ID       string
	Snapshot *store.DirectConversation
}

func (c DMContext) Ref() store.ConversationRef { return store.DMRef(c.ID) }
func (DMContext) isConversation()               {}

// GroupContext identifies a group conversation.
type GroupContext struct {
	ID string
}

func (c GroupContext) Ref() store.ConversationRef { return store.GroupRef(c.ID) }
func (GroupContext) isConversation()               {}

// Event is implemented by Created, Updated and Deleted.
type Event interface {
	// Names returns the general event name followed by the kind-specific one.
	Names() (general, specific Name)
	ConversationRef() store.ConversationRef
}

// Created is emitted after a message is persisted.
type Created struct {
	Message      *store.Message
	Conversation Conversation
}

// Updated is emitted after a message's content changes.
type Updated struct {
	Message         *store.Message
	PreviousContent string
	Conversation    Conversation
}

// Deleted is emitted after a message is removed.
type Deleted struct {
	MessageID    string
	Conversation Conversation
}

func (e Created) ConversationRef() store.ConversationRef { return e.Conversation.Ref() }
func (e Updated) ConversationRef() store.ConversationRef { return e.Conversation.Ref() }
func (e Deleted) ConversationRef() store.ConversationRef { return e.Conversation.Ref() }

func (e Created) Names() (Name, Name) {
	return MessageCreated, specific(e.Conversation, DMMessageCreated, GroupMessageCreated)
}

func (e Updated) Names() (Name, Name) {
	return MessageUpdated, specific(e.Conversation, DMMessageUpdated, GroupMessageUpdated)
}

func (e Deleted) Names() (Name, Name) {
	return MessageDeleted, specific(e.Conversation, DMMessageDeleted, GroupMessageDeleted)
}

func specific(c Conversation, dm, group Name) Name {
	if _, ok := c.(DMContext); ok {
		return dm
	}
	return group
}

// ContextFor builds the conversation context for a ref. dm may be nil for groups.
func ContextFor(ref store.ConversationRef, dm *store.DirectConversation) Conversation {
	if ref.Kind == store.KindDM {
		return DMContext{ID: ref.ID, Snapshot: dm}
	}
	return GroupContext{ID: ref.ID}
}
