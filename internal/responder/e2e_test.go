// ABOUTME: End-to-end DM scenario across the message service, responders and broadcast
// ABOUTME: A user message yields exactly one persona reply, stored and broadcast

package responder_test

import (
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/solipcord/internal/broadcast"
	"github.com/2389/solipcord/internal/conversation"
	"github.com/2389/solipcord/internal/events"
	"github.com/2389/solipcord/internal/llm"
	"github.com/2389/solipcord/internal/pipeline"
	"github.com/2389/solipcord/internal/responder"
	"github.com/2389/solipcord/internal/store"
)

func TestDirectMessageRoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "e2e.db"))
	require.NoError(t, err)
	defer s.Close()

	bus := events.NewBus(logger)
	channels := broadcast.NewChannels(broadcast.DefaultReplaySize, logger)
	svc := conversation.New(s, bus, channels, logger)
	p := pipeline.New(pipeline.NewContextBuilder(s, 0, logger), llm.Scripted{}, svc, logger)
	mgr := responder.NewManager(bus, s, nil, p, logger)
	defer mgr.Close()
	svc.SetLifecycleNotifier(mgr)

	_, err = mgr.Initialize(t.Context())
	require.NoError(t, err)

	alice, err := svc.CreatePersona(t.Context(), conversation.CreatePersonaRequest{Name: "Alice"})
	require.NoError(t, err)
	dm, err := svc.CreateDirectConversation(t.Context(), alice.ID)
	require.NoError(t, err)
	ref := store.DMRef(dm.ID)
	require.True(t, mgr.Registry().Has(ref), "creating a DM attaches its responder")

	var mu sync.Mutex
	var frames []conversation.MessageView
	unsub, err := channels.SubscribeChannel(ref.Channel(), func(payload any) {
		if m, ok := payload.(conversation.MessageView); ok {
			mu.Lock()
			frames = append(frames, m)
			mu.Unlock()
		}
	})
	require.NoError(t, err)
	defer unsub()

	_, err = svc.CreateMessage(t.Context(), conversation.CreateMessageRequest{
		Content:         "Hello",
		AuthorKind:      store.AuthorUser,
		DirectMessageID: dm.ID,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	mgr.Wait()

	mu.Lock()
	var fromAlice []conversation.MessageView
	for _, m := range frames {
		if m.AuthorKind == store.AuthorPersona && m.AuthorID == alice.ID {
			fromAlice = append(fromAlice, m)
		}
	}
	mu.Unlock()
	require.Len(t, fromAlice, 1, "exactly one reply frame from Alice")
	assert.Equal(t, "Hi I'm Alice", fromAlice[0].Content)

	stored, err := s.ListMessages(t.Context(), ref, 10)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, store.AuthorUser, stored[0].AuthorKind)
	assert.Equal(t, "Hello", stored[0].Content)
	assert.Equal(t, store.AuthorPersona, stored[1].AuthorKind)
	assert.Equal(t, alice.ID, stored[1].AuthorID)
}
