// ABOUTME: Process-wide real-time state: event bus, broadcast channels, responder registry
// ABOUTME: Shared returns one hub per process so a rebuilt gateway finds existing responders

package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/2389/solipcord/internal/broadcast"
	"github.com/2389/solipcord/internal/events"
	"github.com/2389/solipcord/internal/responder"
)

// Hub bundles the in-process real-time components.
type Hub struct {
	Bus      *events.Bus
	Channels *broadcast.Channels
	Registry *responder.Registry
}

// New creates an isolated hub. replaySize of zero uses broadcast.DefaultReplaySize.
func New(replaySize int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		Bus:      events.NewBus(logger),
		Channels: broadcast.NewChannels(replaySize, logger),
		Registry: responder.NewRegistry(),
	}
}

var (
	shared   atomic.Pointer[Hub]
	sharedMu sync.Mutex
)

// Shared returns the process-wide hub, creating it on first use. Arguments
// only matter for the call that creates it.
func Shared(replaySize int, logger *slog.Logger) *Hub {
	if h := shared.Load(); h != nil {
		return h
	}
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if h := shared.Load(); h != nil {
		return h
	}
	h := New(replaySize, logger)
	shared.Store(h)
	return h
}

// Reset discards the process-wide hub, closing its channels. Used by tests.
func Reset() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if h := shared.Swap(nil); h != nil {
		h.Channels.Close()
	}
}
