// ABOUTME: TTL- and size-bounded record of (message, persona) pairs already answered
// ABOUTME: Keeps a persona from replying twice to the same triggering message

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults used by the responder manager.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 10_000
)

type entry struct {
	claimedAt time.Time
	element   *list.Element
}

// Guard tracks which persona has claimed which message. A claim expires after
// ttl; when maxSize is reached the oldest claim is evicted first.
type Guard struct {
	mu      sync.Mutex
	claims  map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a guard and starts its background sweeper. Zero values use the defaults.
func New(ttl time.Duration, maxSize int) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	g := &Guard{
		claims:  make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go g.sweepLoop(sweepInterval(ttl))
	return g
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Key builds the claim key for a persona answering a message.
func Key(messageID, personaID string) string {
	return messageID + "\x00" + personaID
}

// Claim records that personaID is answering messageID. It returns false when
// an unexpired claim already exists, so exactly one caller wins.
func (g *Guard) Claim(messageID, personaID string) bool {
	key := Key(messageID, personaID)

	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.claims[key]; ok && time.Since(e.claimedAt) < g.ttl {
		return false
	}
	g.putLocked(key)
	return true
}

// Claimed reports whether an unexpired claim exists.
func (g *Guard) Claimed(messageID, personaID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.claims[Key(messageID, personaID)]
	return ok && time.Since(e.claimedAt) < g.ttl
}

// Len returns the number of stored claims, expired ones included until swept.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.claims)
}

func (g *Guard) putLocked(key string) {
	now := time.Now()
	if e, ok := g.claims[key]; ok {
		e.claimedAt = now
		g.order.MoveToBack(e.element)
		return
	}
	if len(g.claims) >= g.maxSize {
		if front := g.order.Front(); front != nil {
			old, _ := front.Value.(string)
			g.order.Remove(front)
			delete(g.claims, old)
		}
	}
	g.claims[key] = &entry{claimedAt: now, element: g.order.PushBack(key)}
}

func (g *Guard) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.done:
			return
		}
	}
}

// sweep drops expired claims. Claims are stored in time order, so it stops at
// the first live one.
func (g *Guard) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for front := g.order.Front(); front != nil; front = g.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(g.claims[key].claimedAt) < g.ttl {
			return
		}
		g.order.Remove(front)
		delete(g.claims, key)
	}
}

// Close stops the sweeper. Safe to call more than once.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
