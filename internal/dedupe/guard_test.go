// ABOUTME: Tests for the (message, persona) reply guard
// ABOUTME: Covers single-winner claims, expiry, eviction, and sweeping

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuard_ClaimOnce(t *testing.T) {
	g := New(time.Minute, 100)
	defer g.Close()

	assert.True(t, g.Claim("m1", "alice"))
	assert.False(t, g.Claim("m1", "alice"), "second claim for the same pair must lose")
	assert.True(t, g.Claim("m1", "bob"), "other personas may answer the same message")
	assert.True(t, g.Claim("m2", "alice"))
	assert.True(t, g.Claimed("m1", "alice"))
	assert.False(t, g.Claimed("m3", "alice"))
}

func TestGuard_KeysDoNotCollide(t *testing.T) {
	g := New(time.Minute, 100)
	defer g.Close()

	assert.True(t, g.Claim("a", "bc"))
	assert.True(t, g.Claim("ab", "c"))
}

func TestGuard_ClaimExpires(t *testing.T) {
	g := New(10*time.Millisecond, 100)
	defer g.Close()

	assert.True(t, g.Claim("m1", "alice"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, g.Claimed("m1", "alice"))
	assert.True(t, g.Claim("m1", "alice"))
}

func TestGuard_EvictsOldest(t *testing.T) {
	g := New(time.Minute, 2)
	defer g.Close()

	g.Claim("m1", "p")
	g.Claim("m2", "p")
	g.Claim("m3", "p")

	assert.False(t, g.Claimed("m1", "p"), "oldest claim should be evicted")
	assert.True(t, g.Claimed("m2", "p"))
	assert.True(t, g.Claimed("m3", "p"))
	assert.Equal(t, 2, g.Len())
}

func TestGuard_Sweep(t *testing.T) {
	g := New(time.Hour, 100)
	defer g.Close()
	g.ttl = 10 * time.Millisecond

	g.Claim("m1", "p")
	g.Claim("m2", "p")
	time.Sleep(20 * time.Millisecond)
	g.Claim("m3", "p")

	g.sweep()
	assert.Equal(t, 1, g.Len())
	assert.True(t, g.Claimed("m3", "p"))
}

func TestGuard_ConcurrentClaimHasOneWinner(t *testing.T) {
	g := New(time.Minute, 100)
	defer g.Close()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Claim("contested", "alice") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestGuard_ConcurrentDistinctClaims(t *testing.T) {
	g := New(time.Minute, 10_000)
	defer g.Close()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := range 20 {
				assert.True(t, g.Claim(fmt.Sprintf("m%d", j), fmt.Sprintf("p%d", i)))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, g.Len())
}

func TestGuard_CloseIsIdempotent(t *testing.T) {
	g := New(0, 0)
	assert.Equal(t, DefaultTTL, g.ttl)
	assert.Equal(t, DefaultMaxSize, g.maxSize)
	g.Close()
	g.Close()
}
