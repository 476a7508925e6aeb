// ABOUTME: Server-Sent Events adapter that bridges a broadcast channel to one HTTP client
// ABOUTME: Sends a connected frame, then one data frame per payload until the client leaves or falls behind

package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/2389/solipcord/internal/broadcast"
	"github.com/2389/solipcord/internal/metrics"
	"github.com/2389/solipcord/internal/store"
)

// Defaults for Options.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSubscriberBuffer  = 64
)

// Subscriber registers callbacks by channel id. *broadcast.Channels implements it.
type Subscriber interface {
	SubscribeChannel(channelID string, cb broadcast.Callback) (broadcast.Unsubscribe, error)
}

// Options tune a Handler. Zero values use the defaults.
type Options struct {
	HeartbeatInterval time.Duration
	SubscriberBuffer  int
}

// Handler serves GET ?channel=<type>:<id> as an event stream.
type Handler struct {
	channels  Subscriber
	heartbeat time.Duration
	buffer    int
	logger    *slog.Logger
}

// NewHandler creates an SSE handler. Pass nil logger for default.
func NewHandler(channels Subscriber, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = DefaultSubscriberBuffer
	}
	return &Handler{
		channels:  channels,
		heartbeat: opts.HeartbeatInterval,
		buffer:    opts.SubscriberBuffer,
		logger:    logger.With("component", "sse"),
	}
}

// connected is the payload of the first frame.
type connected struct {
	Status  string `json:"status"`
	Channel string `json:"channel"`
}

// ServeHTTP streams the channel until the request context ends or the
// subscriber buffer overflows. On overflow the buffered frames are written and
// the stream is closed, so the client reconnects and catches up from replay
// instead of silently missing frames.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel")
	if channelID == "" {
		sendJSONError(w, http.StatusBadRequest, "channel query parameter is required")
		return
	}
	ref, err := store.ParseChannel(channelID)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Replay lands in the buffer and is written after the connected frame
	sub := newSubscription(ref.Channel(), h.buffer, h.logger)
	unsubscribe, err := h.channels.SubscribeChannel(ref.Channel(), sub.deliver)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	h.writeEvent(w, "connected", connected{Status: "connected", Channel: ref.Channel()})
	flusher.Flush()

	metrics.StreamsOpen.Inc()
	defer metrics.StreamsOpen.Dec()

	h.logger.Debug("stream opened", "channel", ref.Channel(), "remote", r.RemoteAddr)
	defer h.logger.Debug("stream closed", "channel", ref.Channel(), "remote", r.RemoteAddr)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-sub.frames:
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		case <-sub.overflow:
			sub.drain(w)
			flusher.Flush()
			metrics.StreamsOverflowed.Inc()
			h.logger.Warn("closing stream of slow client", "channel", ref.Channel(), "remote", r.RemoteAddr)
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func (h *Handler) writeEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// subscription buffers serialized frames between the broadcaster and the
// writer loop. deliver never blocks; the first dropped frame closes overflow.
type subscription struct {
	channel  string
	frames   chan []byte
	overflow chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

func newSubscription(channel string, buffer int, logger *slog.Logger) *subscription {
	return &subscription{
		channel:  channel,
		frames:   make(chan []byte, buffer),
		overflow: make(chan struct{}),
		logger:   logger,
	}
}

func (s *subscription) deliver(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal broadcast payload", "channel", s.channel, "error", err)
		return
	}
	select {
	case s.frames <- data:
	default:
		metrics.FramesDropped.Inc()
		s.once.Do(func() {
			s.logger.Warn("subscriber buffer full, frame dropped", "channel", s.channel)
			close(s.overflow)
		})
	}
}

// drain writes whatever is still buffered without blocking.
func (s *subscription) drain(w http.ResponseWriter) {
	for {
		select {
		case frame := <-s.frames:
			fmt.Fprintf(w, "data: %s\n\n", frame)
		default:
			return
		}
	}
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
