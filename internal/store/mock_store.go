// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	personas map[string]*Persona
	dms      map[string]*DirectConversation
	groups   map[string]*GroupConversation
	messages map[string]*Message
	seq      map[string]int // message ID -> insertion sequence, breaks created_at ties
	next     int
	logs     []*GenerationLog

	// SaveErr, when set, is returned by SaveMessage.
	SaveErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		personas: make(map[string]*Persona),
		dms:      make(map[string]*DirectConversation),
		groups:   make(map[string]*GroupConversation),
		messages: make(map[string]*Message),
		seq:      make(map[string]int),
	}
}

// CreatePersona stores a new persona.
func (m *MockStore) CreatePersona(ctx context.Context, p *Persona) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.personas[p.ID]; exists {
		return ErrConflict
	}
	cp := *p
	m.personas[p.ID] = &cp
	return nil
}

// GetPersona retrieves a persona by ID.
func (m *MockStore) GetPersona(ctx context.Context, id string) (*Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.personas[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *p
	return &result, nil
}

// ListPersonas returns personas ordered by creation time.
func (m *MockStore) ListPersonas(ctx context.Context) ([]*Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Persona, 0, len(m.personas))
	for _, p := range m.personas {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeletePersona removes a persona unless a conversation references it.
func (m *MockStore) DeletePersona(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.personas[id]; !ok {
		return ErrNotFound
	}
	for _, dm := range m.dms {
		if dm.PersonaID == id {
			return ErrConflict
		}
	}
	for _, g := range m.groups {
		if slices.Contains(g.ParticipantIDs, id) {
			return ErrConflict
		}
	}
	delete(m.personas, id)
	return nil
}

// CreateDirectConversation stores a DM. The persona must exist.
func (m *MockStore) CreateDirectConversation(ctx context.Context, dm *DirectConversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.dms[dm.ID]; exists {
		return ErrConflict
	}
	if _, ok := m.personas[dm.PersonaID]; !ok {
		return ErrConflict
	}
	cp := *dm
	m.dms[dm.ID] = &cp
	return nil
}

// GetDirectConversation retrieves a DM by ID.
func (m *MockStore) GetDirectConversation(ctx context.Context, id string) (*DirectConversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dm, ok := m.dms[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *dm
	return &result, nil
}

// ListDirectConversations returns DMs ordered by creation time.
func (m *MockStore) ListDirectConversations(ctx context.Context) ([]*DirectConversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*DirectConversation, 0, len(m.dms))
	for _, dm := range m.dms {
		cp := *dm
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteDirectConversation removes a DM and its messages.
func (m *MockStore) DeleteDirectConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dms[id]; !ok {
		return ErrNotFound
	}
	delete(m.dms, id)
	m.deleteMessagesLocked(DMRef(id))
	return nil
}

// CreateGroupConversation stores a group. Every participant must exist.
func (m *MockStore) CreateGroupConversation(ctx context.Context, g *GroupConversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.groups[g.ID]; exists {
		return ErrConflict
	}
	for _, id := range g.ParticipantIDs {
		if _, ok := m.personas[id]; !ok {
			return ErrConflict
		}
	}
	cp := *g
	cp.ParticipantIDs = slices.Clone(g.ParticipantIDs)
	m.groups[g.ID] = &cp
	return nil
}

// GetGroupConversation retrieves a group by ID.
func (m *MockStore) GetGroupConversation(ctx context.Context, id string) (*GroupConversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *g
	result.ParticipantIDs = slices.Clone(g.ParticipantIDs)
	return &result, nil
}

// ListGroupConversations returns groups ordered by creation time.
func (m *MockStore) ListGroupConversations(ctx context.Context) ([]*GroupConversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*GroupConversation, 0, len(m.groups))
	for _, g := range m.groups {
		cp := *g
		cp.ParticipantIDs = slices.Clone(g.ParticipantIDs)
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteGroupConversation removes a group and its messages.
func (m *MockStore) DeleteGroupConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[id]; !ok {
		return ErrNotFound
	}
	delete(m.groups, id)
	m.deleteMessagesLocked(GroupRef(id))
	return nil
}

func (m *MockStore) deleteMessagesLocked(ref ConversationRef) {
	for id, msg := range m.messages {
		if msg.Conversation == ref {
			delete(m.messages, id)
			delete(m.seq, id)
		}
	}
}

// GetConversationParticipants returns the persona ids of a conversation.
func (m *MockStore) GetConversationParticipants(ctx context.Context, ref ConversationRef) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch ref.Kind {
	case KindDM:
		dm, ok := m.dms[ref.ID]
		if !ok {
			return nil, ErrNotFound
		}
		return []string{dm.PersonaID}, nil
	case KindGroup:
		g, ok := m.groups[ref.ID]
		if !ok {
			return nil, ErrNotFound
		}
		return slices.Clone(g.ParticipantIDs), nil
	default:
		return nil, fmt.Errorf("unknown conversation kind %q", ref.Kind)
	}
}

// SaveMessage stores a message. The referenced conversation must exist.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	if _, exists := m.messages[msg.ID]; exists {
		return ErrConflict
	}
	switch msg.Conversation.Kind {
	case KindDM:
		if _, ok := m.dms[msg.Conversation.ID]; !ok {
			return ErrConflict
		}
	case KindGroup:
		if _, ok := m.groups[msg.Conversation.ID]; !ok {
			return ErrConflict
		}
	default:
		return ErrConflict
	}

	cp := *msg
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	m.messages[msg.ID] = &cp
	m.next++
	m.seq[msg.ID] = m.next
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *msg
	return &result, nil
}

// UpdateMessageContent replaces a message's content.
func (m *MockStore) UpdateMessageContent(ctx context.Context, id, content string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Content = content
	msg.UpdatedAt = updatedAt
	return nil
}

// DeleteMessage removes a message.
func (m *MockStore) DeleteMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.messages[id]; !ok {
		return ErrNotFound
	}
	delete(m.messages, id)
	delete(m.seq, id)
	return nil
}

// ListMessages returns the most recent limit messages of a conversation, oldest first.
func (m *MockStore) ListMessages(ctx context.Context, ref ConversationRef, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = normalizeLimit(limit)

	var result []*Message
	for _, msg := range m.messages {
		if msg.Conversation == ref {
			cp := *msg
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return m.seq[result[i].ID] < m.seq[result[j].ID]
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// SaveGenerationLog appends a generation log entry.
func (m *MockStore) SaveGenerationLog(ctx context.Context, entry *GenerationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.logs = append(m.logs, &cp)
	return nil
}

// ListGenerationLogs returns matching entries, newest first.
func (m *MockStore) ListGenerationLogs(ctx context.Context, filter GenerationLogFilter) ([]*GenerationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := normalizeLimit(filter.Limit)
	result := []*GenerationLog{}
	for i := len(m.logs) - 1; i >= 0 && len(result) < limit; i-- {
		if matchesGenerationFilter(m.logs[i], filter) {
			cp := *m.logs[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

// GetGenerationStats aggregates matching entries.
func (m *MockStore) GetGenerationStats(ctx context.Context, filter GenerationLogFilter) (*GenerationStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats GenerationStats
	for _, entry := range m.logs {
		if !matchesGenerationFilter(entry, filter) {
			continue
		}
		stats.Requests++
		if entry.Status != GenerationSuccess {
			stats.Failures++
		}
		stats.PromptTokens += entry.PromptTokens
		stats.CompletionTokens += entry.CompletionTokens
	}
	stats.TotalTokens = stats.PromptTokens + stats.CompletionTokens
	return &stats, nil
}

func matchesGenerationFilter(entry *GenerationLog, filter GenerationLogFilter) bool {
	if filter.PersonaID != "" && entry.PersonaID != filter.PersonaID {
		return false
	}
	return filter.Since == nil || !entry.CreatedAt.Before(*filter.Since)
}

// Compile-time check that MockStore implements Store
var _ Store = (*MockStore)(nil)

var _ GenerationLogStore = (*MockStore)(nil)
