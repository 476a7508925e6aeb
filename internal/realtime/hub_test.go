// ABOUTME: Tests for the process-wide real-time hub
// ABOUTME: Verifies Shared returns one instance until Reset

package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/solipcord/internal/store"
)

func TestShared_ReturnsSameHub(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	var wg sync.WaitGroup
	hubs := make([]*Hub, 20)
	for i := range hubs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hubs[i] = Shared(0, nil)
		}(i)
	}
	wg.Wait()

	for _, h := range hubs {
		assert.Same(t, hubs[0], h)
	}
}

func TestShared_StateSurvivesAcrossCallers(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	Shared(0, nil).Channels.Broadcast(store.DMRef("x"), "m1")

	var got []any
	Shared(0, nil).Channels.Subscribe(store.DMRef("x"), func(p any) { got = append(got, p) })
	assert.Equal(t, []any{"m1"}, got)
}

func TestReset(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	first := Shared(0, nil)
	Reset()
	assert.NotSame(t, first, Shared(0, nil))
}

func TestNew_IsIsolated(t *testing.T) {
	a, b := New(0, nil), New(0, nil)
	assert.NotSame(t, a.Bus, b.Bus)
	assert.NotSame(t, a.Registry, b.Registry)
}
