// ABOUTME: Registry of attached conversation responders keyed by channel id
// ABOUTME: The only record of whether a conversation is currently being answered

package responder

import (
	"sort"
	"sync"
	"time"

	"github.com/2389/solipcord/internal/events"
	"github.com/2389/solipcord/internal/store"
)

// Registration is one attached conversation.
type Registration struct {
	Ref         store.ConversationRef
	Unsubscribe events.Unsubscribe
	AttachedAt  time.Time
}

// Registry maps "dm:<id>" / "group:<id>" to its registration. It is safe for
// concurrent use and may outlive the Manager that filled it.
type Registry struct {
	mu   sync.Mutex
	regs map[string]*Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]*Registration)}
}

// AddIfAbsent calls subscribe and stores the result unless ref is already
// registered. subscribe runs under the registry lock, so two concurrent
// callers can never both subscribe. Reports whether a registration was added.
func (r *Registry) AddIfAbsent(ref store.ConversationRef, subscribe func() events.Unsubscribe) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ref.Channel()
	if _, ok := r.regs[key]; ok {
		return false
	}
	r.regs[key] = &Registration{
		Ref:         ref,
		Unsubscribe: subscribe(),
		AttachedAt:  time.Now(),
	}
	return true
}

// Remove deletes and returns the registration of ref.
func (r *Registry) Remove(ref store.ConversationRef) (*Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ref.Channel()
	reg, ok := r.regs[key]
	if ok {
		delete(r.regs, key)
	}
	return reg, ok
}

// Drain removes and returns every registration.
func (r *Registry) Drain() []*Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Registration, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, reg)
	}
	r.regs = make(map[string]*Registration)
	return out
}

// Has reports whether ref is registered.
func (r *Registry) Has(ref store.ConversationRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.regs[ref.Channel()]
	return ok
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regs)
}

// Refs returns the registered refs ordered by channel id.
func (r *Registry) Refs() []store.ConversationRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]store.ConversationRef, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, reg.Ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel() < out[j].Channel() })
	return out
}
