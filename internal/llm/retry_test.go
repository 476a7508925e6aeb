// ABOUTME: Tests for generation retry policy and error classification
// ABOUTME: Uses a scripted fake generator and millisecond delays

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGenerator returns errs in order, then text.
type fakeGenerator struct {
	errs  []error
	text  string
	calls atomic.Int32
}

func (f *fakeGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	n := int(f.calls.Add(1)) - 1
	if n < len(f.errs) {
		return nil, f.errs[n]
	}
	return &Response{Text: f.text}, nil
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 30*time.Second, p.Delay(10), "delay is capped")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &StatusError{StatusCode: 429}, true},
		{"server error", &StatusError{StatusCode: 503}, true},
		{"bad request", &StatusError{StatusCode: 400}, false},
		{"not found", &StatusError{StatusCode: 404}, false},
		{"ollama 500", api.StatusError{StatusCode: 500, ErrorMessage: "oom"}, true},
		{"ollama 400", fmt.Errorf("wrapped: %w", api.StatusError{StatusCode: 400}), false},
		{"timeout", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"empty", ErrEmptyResponse, false},
		{"unknown", errors.New("bad prompt"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestRetrying_RecoversFromTransientFailures(t *testing.T) {
	fake := &fakeGenerator{
		errs: []error{&StatusError{StatusCode: 503}, &StatusError{StatusCode: 429}},
		text: "hello",
	}
	r := NewRetrying(fake, fastPolicy(), testLogger())

	res, err := r.Generate(t.Context(), Request{PersonaName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, int32(3), fake.calls.Load())
}

func TestRetrying_GivesUpAfterMaxAttempts(t *testing.T) {
	fake := &fakeGenerator{
		errs: []error{&StatusError{StatusCode: 500}, &StatusError{StatusCode: 500}, &StatusError{StatusCode: 500}, &StatusError{StatusCode: 500}},
	}
	r := NewRetrying(fake, fastPolicy(), testLogger())

	_, err := r.Generate(t.Context(), Request{})
	require.Error(t, err)
	var status *StatusError
	assert.ErrorAs(t, err, &status)
	assert.Equal(t, int32(3), fake.calls.Load())
}

func TestRetrying_DoesNotRetryClientErrors(t *testing.T) {
	fake := &fakeGenerator{errs: []error{&StatusError{StatusCode: 400}}}
	r := NewRetrying(fake, fastPolicy(), testLogger())

	_, err := r.Generate(t.Context(), Request{})
	require.Error(t, err)
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestRetrying_DoesNotRetryEmptyResponses(t *testing.T) {
	fake := &fakeGenerator{errs: []error{ErrEmptyResponse}, text: "late"}
	r := NewRetrying(fake, fastPolicy(), testLogger())

	_, err := r.Generate(t.Context(), Request{})
	require.ErrorIs(t, err, ErrEmptyResponse)
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestRetrying_StopsWhenContextDone(t *testing.T) {
	fake := &fakeGenerator{errs: []error{&StatusError{StatusCode: 503}, &StatusError{StatusCode: 503}}}
	r := NewRetrying(fake, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}, testLogger())

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Generate(ctx, Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestScripted(t *testing.T) {
	res, err := Scripted{}.Generate(t.Context(), Request{PersonaName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "Hi I'm Alice", res.Text)
	assert.Equal(t, ScriptedModel, res.Model)
}
