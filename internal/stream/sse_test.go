// ABOUTME: Tests for the SSE adapter over a real HTTP server
// ABOUTME: Covers request validation, frame order, heartbeats, and cleanup on disconnect

package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/solipcord/internal/broadcast"
	"github.com/2389/solipcord/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServer(t *testing.T, opts Options) (*httptest.Server, *broadcast.Channels) {
	t.Helper()
	channels := broadcast.NewChannels(broadcast.DefaultReplaySize, testLogger())
	srv := httptest.NewServer(NewHandler(channels, opts, testLogger()))
	t.Cleanup(srv.Close)
	return srv, channels
}

// openStream connects and returns a line reader plus a cancel func.
func openStream(t *testing.T, srv *httptest.Server, channel string) (*bufio.Reader, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?channel="+channel, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))
	return bufio.NewReader(resp.Body), cancel
}

// readFrame reads one SSE frame (up to the blank line).
func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	type result struct {
		frame string
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		var b strings.Builder
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				ch <- result{err: err}
				return
			}
			if line == "\n" {
				ch <- result{frame: b.String()}
				return
			}
			b.WriteString(line)
		}
	}()
	select {
	case res := <-ch:
		require.NoError(t, res.err)
		return res.frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SSE frame")
		return ""
	}
}

func TestHandler_RejectsBadChannels(t *testing.T) {
	srv, _ := newServer(t, Options{})

	for _, q := range []string{"", "?channel=", "?channel=dm", "?channel=dm:", "?channel=:x", "?channel=chat:1"} {
		resp, err := srv.Client().Get(srv.URL + q)
		require.NoError(t, err)
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.NotEmpty(t, body["error"], q)
	}
}

func TestHandler_ConnectedThenReplayThenLive(t *testing.T) {
	srv, channels := newServer(t, Options{})
	channels.Broadcast(store.DMRef("x"), map[string]string{"id": "m1"})

	r, cancel := openStream(t, srv, "dm:x")
	defer cancel()

	assert.Equal(t, "event: connected\ndata: {\"status\":\"connected\",\"channel\":\"dm:x\"}\n", readFrame(t, r))
	assert.Equal(t, "data: {\"id\":\"m1\"}\n", readFrame(t, r))

	channels.Broadcast(store.GroupRef("x"), map[string]string{"id": "other"})
	channels.Broadcast(store.DMRef("x"), map[string]string{"id": "m2"})
	assert.Equal(t, "data: {\"id\":\"m2\"}\n", readFrame(t, r), "group:x must not leak into dm:x")
}

func TestHandler_SerializationFailureKeepsStreamOpen(t *testing.T) {
	srv, channels := newServer(t, Options{})

	r, cancel := openStream(t, srv, "group:g")
	defer cancel()
	readFrame(t, r)

	channels.Broadcast(store.GroupRef("g"), func() {})
	channels.Broadcast(store.GroupRef("g"), "ok")
	assert.Equal(t, "data: \"ok\"\n", readFrame(t, r))
}

func TestHandler_Heartbeat(t *testing.T) {
	srv, _ := newServer(t, Options{HeartbeatInterval: 20 * time.Millisecond})

	r, cancel := openStream(t, srv, "dm:x")
	defer cancel()
	readFrame(t, r)

	assert.Equal(t, ": heartbeat\n", readFrame(t, r))
}

func TestHandler_DisconnectUnsubscribes(t *testing.T) {
	srv, channels := newServer(t, Options{})

	r, cancel := openStream(t, srv, "dm:x")
	readFrame(t, r)
	require.Equal(t, 1, channels.Stats().DM.Subscribers)

	cancel()
	require.Eventually(t, func() bool {
		return channels.Stats().DM.Subscribers == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.NotPanics(t, func() { channels.Broadcast(store.DMRef("x"), "after") })
}

func TestSubscription_DropsWhenFullAndSignalsOverflow(t *testing.T) {
	sub := newSubscription("dm:x", 2, testLogger())

	sub.deliver("a")
	sub.deliver("b")
	select {
	case <-sub.overflow:
		t.Fatal("overflow signalled before the buffer was full")
	default:
	}

	sub.deliver("c")
	sub.deliver("d")

	select {
	case <-sub.overflow:
	default:
		t.Fatal("expected overflow after a dropped frame")
	}
	require.Len(t, sub.frames, 2)
	assert.Equal(t, `"a"`, string(<-sub.frames))
	assert.Equal(t, `"b"`, string(<-sub.frames))
}

func TestHandler_SlowClientStreamIsClosed(t *testing.T) {
	srv, channels := newServer(t, Options{SubscriberBuffer: 2})

	r, cancel := openStream(t, srv, "dm:x")
	defer cancel()
	readFrame(t, r)

	// Large frames fill the socket buffers while the client is not reading,
	// so the writer blocks and the subscriber buffer overflows.
	big := strings.Repeat("x", 64<<10)
	for range 200 {
		channels.Broadcast(store.DMRef("x"), big)
	}

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, r)
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err, "server should end the stream cleanly")
	case <-time.After(10 * time.Second):
		t.Fatal("stream of a slow client was never closed")
	}

	require.Eventually(t, func() bool {
		return channels.Stats().DM.Subscribers == 0
	}, 2*time.Second, 10*time.Millisecond)
}
