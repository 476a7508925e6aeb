// ABOUTME: Attaches one responder per conversation and fans user messages out to personas
// ABOUTME: DMs get one reply from their persona; groups get one from every other participant

package responder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
	"tailscale.com/util/singleflight"

	"github.com/2389/solipcord/internal/dedupe"
	"github.com/2389/solipcord/internal/events"
	"github.com/2389/solipcord/internal/metrics"
	"github.com/2389/solipcord/internal/store"
)

// DefaultGenerationTimeout bounds a single persona reply.
const DefaultGenerationTimeout = 90 * time.Second

// Responder produces and posts one persona reply. pipeline.Pipeline implements it.
type Responder interface {
	Respond(ctx context.Context, personaID string, ref store.ConversationRef) (*store.Message, error)
}

// Status is a snapshot of the attached responders.
type Status struct {
	Running        bool     `json:"running"`
	DMListeners    int      `json:"dm_listeners"`
	GroupListeners int      `json:"group_listeners"`
	DMIDs          []string `json:"dm_ids"`
	GroupIDs       []string `json:"group_ids"`
}

// Manager keeps the set of attached responders in step with the set of
// conversations and runs persona generations off the emitting goroutine.
type Manager struct {
	bus       *events.Bus
	store     store.Store
	registry  *Registry
	responder Responder
	guard     *dedupe.Guard
	ownGuard  bool
	timeout   time.Duration
	logger    *slog.Logger

	init singleflight.Group[string, int]

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	// accepting is set from the start of Initialize until Shutdown, so a
	// conversation created while the bootstrap scan runs is still attached.
	accepting bool

	inflight sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithGenerationTimeout overrides DefaultGenerationTimeout.
func WithGenerationTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithGuard supplies the duplicate-reply guard. Without it the manager owns one.
func WithGuard(g *dedupe.Guard) Option {
	return func(m *Manager) { m.guard = g }
}

// NewManager creates a manager. registry may be shared between managers in
// one process; nil creates a private one. Pass nil logger for default.
func NewManager(bus *events.Bus, s store.Store, registry *Registry, responder Responder, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	m := &Manager{
		bus:       bus,
		store:     s,
		registry:  registry,
		responder: responder,
		timeout:   DefaultGenerationTimeout,
		logger:    logger.With("component", "responder"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.guard == nil {
		m.guard = dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize)
		m.ownGuard = true
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Registry returns the registry the manager writes to.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Attach subscribes a responder to ref. Attaching a registered conversation
// is a silent no-op. Reports whether a new responder was attached.
func (m *Manager) Attach(ref store.ConversationRef) bool {
	added := m.registry.AddIfAbsent(ref, func() events.Unsubscribe {
		return m.bus.OnConversationCreated(ref, m.listener(ref))
	})
	if added {
		m.logger.Debug("responder attached", "channel", ref.Channel())
		m.recordRegistrations()
	}
	return added
}

// Detach unsubscribes ref's responder. Detaching an unknown conversation is a no-op.
func (m *Manager) Detach(ref store.ConversationRef) bool {
	reg, ok := m.registry.Remove(ref)
	if !ok {
		return false
	}
	reg.Unsubscribe()
	m.logger.Debug("responder detached", "channel", ref.Channel())
	m.recordRegistrations()
	return true
}

// Initialize attaches a responder to every stored conversation and marks the
// manager running. Concurrent calls share one pass. Returns how many
// responders were newly attached.
func (m *Manager) Initialize(ctx context.Context) (int, error) {
	n, err, _ := m.init.Do("initialize", func() (int, error) {
		return m.initialize(ctx)
	})
	return n, err
}

func (m *Manager) initialize(ctx context.Context) (int, error) {
	m.mu.Lock()
	m.accepting = true
	m.mu.Unlock()

	dms, err := m.store.ListDirectConversations(ctx)
	if err != nil {
		m.stopAccepting()
		return 0, fmt.Errorf("listing direct conversations: %w", err)
	}
	groups, err := m.store.ListGroupConversations(ctx)
	if err != nil {
		m.stopAccepting()
		return 0, fmt.Errorf("listing group conversations: %w", err)
	}

	refs := append(
		lo.Map(dms, func(dm *store.DirectConversation, _ int) store.ConversationRef { return store.DMRef(dm.ID) }),
		lo.Map(groups, func(g *store.GroupConversation, _ int) store.ConversationRef { return store.GroupRef(g.ID) })...,
	)
	attached := lo.CountBy(refs, m.Attach)

	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	m.logger.Info("responders initialized",
		"dms", len(dms),
		"groups", len(groups),
		"attached", attached)
	return attached, nil
}

// stopAccepting reverts a failed Initialize unless an earlier one succeeded.
func (m *Manager) stopAccepting() {
	m.mu.Lock()
	m.accepting = m.running
	m.mu.Unlock()
}

// Shutdown detaches every responder and cancels in-flight generations.
// Initialize may be called again afterwards.
func (m *Manager) Shutdown() {
	for _, reg := range m.registry.Drain() {
		reg.Unsubscribe()
	}
	m.recordRegistrations()

	m.mu.Lock()
	m.running = false
	m.accepting = false
	m.cancel()
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	m.logger.Info("responders shut down")
}

// Close shuts down and releases the duplicate guard if the manager owns it.
func (m *Manager) Close() {
	m.Shutdown()
	if m.ownGuard {
		m.guard.Close()
	}
}

// Wait blocks until every in-flight generation has returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Running reports whether Initialize has completed since the last Shutdown.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Status reports the attached responders.
func (m *Manager) Status() Status {
	st := Status{Running: m.Running(), DMIDs: []string{}, GroupIDs: []string{}}
	for _, ref := range m.registry.Refs() {
		if ref.Kind == store.KindDM {
			st.DMIDs = append(st.DMIDs, ref.ID)
		} else {
			st.GroupIDs = append(st.GroupIDs, ref.ID)
		}
	}
	st.DMListeners = len(st.DMIDs)
	st.GroupListeners = len(st.GroupIDs)
	return st
}

// ConversationCreated attaches a responder to a new conversation once
// Initialize has started. Racing the bootstrap scan attaches at most once.
func (m *Manager) ConversationCreated(_ context.Context, ref store.ConversationRef) {
	m.mu.Lock()
	accepting := m.accepting
	m.mu.Unlock()

	if !accepting {
		m.logger.Debug("not initialized, conversation left unattached", "channel", ref.Channel())
		return
	}
	m.Attach(ref)
}

// ConversationDeleted detaches a removed conversation's responder.
func (m *Manager) ConversationDeleted(ref store.ConversationRef) {
	m.Detach(ref)
}

func (m *Manager) recordRegistrations() {
	refs := m.registry.Refs()
	dms := lo.CountBy(refs, func(r store.ConversationRef) bool { return r.Kind == store.KindDM })
	metrics.ResponderRegistrations.WithLabelValues(string(store.KindDM)).Set(float64(dms))
	metrics.ResponderRegistrations.WithLabelValues(string(store.KindGroup)).Set(float64(len(refs) - dms))
}

// listener returns the bus handler for one conversation. It only decides
// and spawns; generations never run on the emitting goroutine.
func (m *Manager) listener(ref store.ConversationRef) func(events.Created) error {
	return func(e events.Created) error {
		msg := e.Message
		if msg.AuthorKind != store.AuthorUser {
			// Personas never answer personas
			return nil
		}

		switch conv := e.Conversation.(type) {
		case events.DMContext:
			m.spawn(func(ctx context.Context) {
				personaID, err := m.dmPersona(ctx, conv)
				if err != nil {
					m.logger.Error("resolving dm persona failed", "channel", ref.Channel(), "error", err)
					return
				}
				m.generate(ctx, personaID, ref, msg.ID)
			})
		case events.GroupContext:
			m.spawn(func(ctx context.Context) {
				m.fanOut(ctx, ref, msg)
			})
		}
		return nil
	}
}

func (m *Manager) dmPersona(ctx context.Context, conv events.DMContext) (string, error) {
	if conv.Snapshot != nil {
		return conv.Snapshot.PersonaID, nil
	}
	dm, err := m.store.GetDirectConversation(ctx, conv.ID)
	if err != nil {
		return "", err
	}
	return dm.PersonaID, nil
}

// fanOut starts one generation per participant other than the sender.
func (m *Manager) fanOut(ctx context.Context, ref store.ConversationRef, msg *store.Message) {
	participants, err := m.store.GetConversationParticipants(ctx, ref)
	if err != nil {
		m.logger.Error("loading group participants failed", "channel", ref.Channel(), "error", err)
		return
	}
	responders := lo.Filter(participants, func(id string, _ int) bool { return id != msg.AuthorID })

	m.logger.Debug("group fan-out",
		"channel", ref.Channel(),
		"message_id", msg.ID,
		"responders", len(responders))

	for _, personaID := range responders {
		m.spawn(func(ctx context.Context) {
			m.generate(ctx, personaID, ref, msg.ID)
		})
	}
}

// generate runs one persona reply under the generation timeout. Failures are
// logged and never surface in the conversation.
func (m *Manager) generate(ctx context.Context, personaID string, ref store.ConversationRef, messageID string) {
	if !m.guard.Claim(messageID, personaID) {
		m.logger.Debug("duplicate trigger ignored",
			"persona_id", personaID,
			"message_id", messageID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if _, err := m.responder.Respond(ctx, personaID, ref); err != nil {
		m.logger.Warn("persona reply failed",
			"persona_id", personaID,
			"channel", ref.Channel(),
			"trigger_id", messageID,
			"error", err)
	}
}

// spawn runs fn on its own goroutine under the manager context, recovering panics.
func (m *Manager) spawn(fn func(ctx context.Context)) {
	m.mu.Lock()
	ctx := m.ctx
	m.inflight.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("responder goroutine panicked", "panic", fmt.Sprint(r))
			}
		}()
		fn(ctx)
	}()
}
