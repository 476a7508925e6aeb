// ABOUTME: MessageView is the one JSON shape of a message for browsers
// ABOUTME: Used for REST responses and for live broadcast frames alike

package conversation

import (
	"time"

	"github.com/2389/solipcord/internal/store"
)

// ViewTimeFormat is the timestamp layout of MessageView.
const ViewTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// MessageView is the JSON shape of one message. Exactly one of
// DirectMessageID and GroupID is set.
type MessageView struct {
	ID              string           `json:"id"`
	Content         string           `json:"content"`
	AuthorKind      store.AuthorKind `json:"authorKind"`
	AuthorID        string           `json:"authorId"`
	DirectMessageID string           `json:"directMessageId,omitempty"`
	GroupID         string           `json:"groupId,omitempty"`
	Channel         string           `json:"channel"`
	CreatedAt       string           `json:"createdAt"`
	UpdatedAt       string           `json:"updatedAt,omitempty"`
}

// NewMessageView converts a stored message.
func NewMessageView(m *store.Message) MessageView {
	v := MessageView{
		ID:         m.ID,
		Content:    m.Content,
		AuthorKind: m.AuthorKind,
		AuthorID:   m.AuthorID,
		Channel:    m.Conversation.Channel(),
		CreatedAt:  formatViewTime(m.CreatedAt),
		UpdatedAt:  formatViewTime(m.UpdatedAt),
	}
	if m.Conversation.Kind == store.KindDM {
		v.DirectMessageID = m.Conversation.ID
	} else {
		v.GroupID = m.Conversation.ID
	}
	return v
}

func formatViewTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(ViewTimeFormat)
}
