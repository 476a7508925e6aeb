// ABOUTME: Per-channel fan-out of broadcast payloads with a bounded replay queue
// ABOUTME: Late subscribers are caught up from the queue before receiving live payloads

package broadcast

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/solipcord/internal/metrics"
)

// DefaultReplaySize is the number of recent payloads kept per channel.
const DefaultReplaySize = 10

// Callback receives one payload. It runs on the broadcasting goroutine and
// must not block; it must not Subscribe to or Broadcast on its own channel.
type Callback func(payload any)

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

type subscriber struct {
	id string
	cb Callback
}

// channel holds one channel's subscribers and replay queue.
// deliver serializes fan-out so each subscriber observes Broadcast call
// order, and so a new subscriber's replay never interleaves with a live
// payload. subs and queue are guarded by Broadcaster.mu.
type channel struct {
	deliver sync.Mutex
	subs    []subscriber
	queue   []any
}

// Broadcaster fans payloads out to callbacks registered for a channel id and
// keeps the last replaySize payloads of every channel, whether or not anyone
// is subscribed. It is independent of the event bus: the message write path
// calls Broadcast explicitly.
type Broadcaster struct {
	namespace  string
	replaySize int

	mu       sync.Mutex
	channels map[string]*channel
	logger   *slog.Logger
}

// NewBroadcaster creates a broadcaster for one namespace ("dm" or "group").
// A replaySize of zero or less uses DefaultReplaySize. Pass nil logger for default.
func NewBroadcaster(namespace string, replaySize int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if replaySize <= 0 {
		replaySize = DefaultReplaySize
	}
	return &Broadcaster{
		namespace:  namespace,
		replaySize: replaySize,
		channels:   make(map[string]*channel),
		logger:     logger.With("component", "broadcaster", "namespace", namespace),
	}
}

// channelFor returns the channel for id, creating it if needed.
func (b *Broadcaster) channelFor(id string) *channel {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[id]
	if !ok {
		ch = &channel{}
		b.channels[id] = ch
	}
	return ch
}

// Subscribe registers cb for id and synchronously replays the queued payloads
// to cb alone before returning.
func (b *Broadcaster) Subscribe(id string, cb Callback) Unsubscribe {
	subID := uuid.New().String()
	ch := b.channelFor(id)

	ch.deliver.Lock()
	b.mu.Lock()
	ch.subs = append(ch.subs, subscriber{id: subID, cb: cb})
	replay := slices.Clone(ch.queue)
	b.mu.Unlock()

	for _, payload := range replay {
		b.call(id, subID, cb, payload)
	}
	ch.deliver.Unlock()

	metrics.Subscribers.WithLabelValues(b.namespace).Inc()
	b.logger.Debug("subscriber added",
		"channel_id", id,
		"sub_id", subID,
		"replayed", len(replay))

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id, subID) })
	}
}

func (b *Broadcaster) unsubscribe(id, subID string) {
	b.mu.Lock()
	ch, ok := b.channels[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	before := len(ch.subs)
	ch.subs = slices.DeleteFunc(ch.subs, func(s subscriber) bool { return s.id == subID })
	removed := before != len(ch.subs)
	if len(ch.subs) == 0 {
		// The replay queue outlives the subscriber set
		ch.subs = nil
	}
	b.mu.Unlock()

	if !removed {
		return
	}
	metrics.Subscribers.WithLabelValues(b.namespace).Dec()
	b.logger.Debug("subscriber removed",
		"channel_id", id,
		"sub_id", subID)
}

// Broadcast appends payload to the channel's replay queue, evicting the
// oldest entry past the bound, then invokes every current subscriber in
// subscription order. A failing subscriber is logged and skipped.
func (b *Broadcaster) Broadcast(id string, payload any) {
	ch := b.channelFor(id)

	ch.deliver.Lock()
	defer ch.deliver.Unlock()

	b.mu.Lock()
	ch.queue = append(ch.queue, payload)
	if over := len(ch.queue) - b.replaySize; over > 0 {
		ch.queue = slices.Clone(ch.queue[over:])
	}
	targets := slices.Clone(ch.subs)
	b.mu.Unlock()

	metrics.Broadcasts.WithLabelValues(b.namespace).Inc()

	for _, s := range targets {
		b.call(id, s.id, s.cb, payload)
	}
}

func (b *Broadcaster) call(id, subID string, cb Callback, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber callback panicked",
				"channel_id", id,
				"sub_id", subID,
				"panic", fmt.Sprint(r))
		}
	}()
	cb(payload)
}

// NamespaceStats summarizes one broadcaster.
type NamespaceStats struct {
	Channels    int      `json:"channels"`
	Subscribers int      `json:"subscribers"`
	Queued      int      `json:"queued"`
	ChannelIDs  []string `json:"channel_ids"`
}

// Stats reports channels that currently have subscribers, the total
// subscriber count, and the number of payloads held in replay queues.
func (b *Broadcaster) Stats() NamespaceStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := NamespaceStats{ChannelIDs: []string{}}
	for id, ch := range b.channels {
		stats.Queued += len(ch.queue)
		if len(ch.subs) == 0 {
			continue
		}
		stats.Channels++
		stats.Subscribers += len(ch.subs)
		stats.ChannelIDs = append(stats.ChannelIDs, id)
	}
	sort.Strings(stats.ChannelIDs)
	return stats
}

// Close drops every subscriber and replay queue.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var subs int
	for _, ch := range b.channels {
		subs += len(ch.subs)
	}
	metrics.Subscribers.WithLabelValues(b.namespace).Sub(float64(subs))
	b.channels = make(map[string]*channel)

	b.logger.Debug("broadcaster closed")
}
