// ABOUTME: DM and Group broadcast namespaces addressed by "dm:<id>" / "group:<id>"
// ABOUTME: Equal raw ids in different namespaces never share subscribers or replay queues

package broadcast

import (
	"log/slog"

	"github.com/2389/solipcord/internal/store"
)

// Channels pairs the DM and Group broadcasters.
type Channels struct {
	DM    *Broadcaster
	Group *Broadcaster
}

// NewChannels creates both namespaces with the same replay size.
func NewChannels(replaySize int, logger *slog.Logger) *Channels {
	return &Channels{
		DM:    NewBroadcaster(string(store.KindDM), replaySize, logger),
		Group: NewBroadcaster(string(store.KindGroup), replaySize, logger),
	}
}

// For returns the broadcaster of a conversation kind.
func (c *Channels) For(kind store.ConversationKind) *Broadcaster {
	if kind == store.KindDM {
		return c.DM
	}
	return c.Group
}

// Broadcast publishes payload on the channel of ref.
func (c *Channels) Broadcast(ref store.ConversationRef, payload any) {
	c.For(ref.Kind).Broadcast(ref.ID, payload)
}

// Subscribe registers cb on the channel of ref.
func (c *Channels) Subscribe(ref store.ConversationRef, cb Callback) Unsubscribe {
	return c.For(ref.Kind).Subscribe(ref.ID, cb)
}

// SubscribeChannel parses a "<type>:<id>" channel id and subscribes to it.
func (c *Channels) SubscribeChannel(channelID string, cb Callback) (Unsubscribe, error) {
	ref, err := store.ParseChannel(channelID)
	if err != nil {
		return nil, err
	}
	return c.Subscribe(ref, cb), nil
}

// Stats holds per-namespace subscription statistics.
type Stats struct {
	DM    NamespaceStats `json:"dm"`
	Group NamespaceStats `json:"group"`
}

// Stats reports both namespaces.
func (c *Channels) Stats() Stats {
	return Stats{DM: c.DM.Stats(), Group: c.Group.Stats()}
}

// Close closes both namespaces.
func (c *Channels) Close() {
	c.DM.Close()
	c.Group.Close()
}
