// ABOUTME: Tests for the responder registry
// ABOUTME: Covers single subscription under contention, removal, and draining

package responder

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/solipcord/internal/events"
	"github.com/2389/solipcord/internal/store"
)

func noopUnsubscribe() events.Unsubscribe { return func() {} }

func TestRegistry_AddIfAbsent(t *testing.T) {
	r := NewRegistry()

	var subscribed int
	sub := func() events.Unsubscribe {
		subscribed++
		return noopUnsubscribe()
	}

	assert.True(t, r.AddIfAbsent(store.DMRef("1"), sub))
	assert.False(t, r.AddIfAbsent(store.DMRef("1"), sub))
	assert.True(t, r.AddIfAbsent(store.GroupRef("1"), sub), "same id in another namespace is distinct")
	assert.Equal(t, 2, subscribed)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []store.ConversationRef{store.DMRef("1"), store.GroupRef("1")}, r.Refs())
}

func TestRegistry_ConcurrentAddSubscribesOnce(t *testing.T) {
	r := NewRegistry()

	var subscribed atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.AddIfAbsent(store.GroupRef("g"), func() events.Unsubscribe {
				subscribed.Add(1)
				return noopUnsubscribe()
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), subscribed.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RemoveAndDrain(t *testing.T) {
	r := NewRegistry()
	r.AddIfAbsent(store.DMRef("a"), noopUnsubscribe)
	r.AddIfAbsent(store.DMRef("b"), noopUnsubscribe)
	r.AddIfAbsent(store.GroupRef("c"), noopUnsubscribe)

	reg, ok := r.Remove(store.DMRef("a"))
	require.True(t, ok)
	assert.Equal(t, store.DMRef("a"), reg.Ref)
	assert.False(t, r.Has(store.DMRef("a")))

	_, ok = r.Remove(store.DMRef("a"))
	assert.False(t, ok)

	drained := r.Drain()
	assert.Len(t, drained, 2)
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Refs())
}
