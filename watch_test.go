package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odbgo/odb/internal/auth"
	"github.com/odbgo/odb/internal/onedrive"
)

func TestShutdownContext_ParentCancelPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())

	ctx := shutdownContext(parent, discardLogger())
	require.NoError(t, ctx.Err())

	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context did not cancel after parent cancellation")
	}
}

// emptyDeltaServer serves delta pages with no items and a delta link, and
// counts the passes it saw.
func emptyDeltaServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"value":{"items":[]},"token":"t","deltaLink":"http://` +
			r.Host + `/drive/root/view.delta?token=t"}`))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestWatchLoop_PollsUntilCancelled(t *testing.T) {
	saveGlobals(t)

	var calls atomic.Int32

	srv := emptyDeltaServer(t, &calls)
	sess := newTestSession(t, srv.URL)
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- watchLoop(ctx, sess, store, "", 10*time.Millisecond, nil)
	}()

	// Startup pass plus at least one poll tick.
	require.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watch loop did not stop after cancellation")
	}
}

func TestWatchLoop_PingTriggersPass(t *testing.T) {
	saveGlobals(t)

	var calls atomic.Int32

	srv := emptyDeltaServer(t, &calls)
	sess := newTestSession(t, srv.URL)
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pings := make(chan struct{}, 1)
	done := make(chan error, 1)

	go func() {
		// Interval long enough that only pings can trigger extra passes.
		done <- watchLoop(ctx, sess, store, "", time.Hour, pings)
	}()

	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, 5*time.Second, 5*time.Millisecond, "startup pass")

	pings <- struct{}{}

	require.Eventually(t, func() bool {
		return calls.Load() == 2
	}, 5*time.Second, 5*time.Millisecond, "push-triggered pass")

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watch loop did not stop after cancellation")
	}
}

// failingSession returns a fixed error from every session operation.
type failingSession struct {
	err error
}

func (s *failingSession) AppendAuthHeader(context.Context, *http.Request) error {
	return s.err
}

func (s *failingSession) EndpointURL(context.Context) (string, error) {
	return "", s.err
}

func TestWatchLoop_AuthFailureIsTerminal(t *testing.T) {
	saveGlobals(t)

	sess := newTestSession(t, "http://unused.example.com")
	sess.client = onedrive.NewClient(
		&failingSession{err: auth.ErrAuthenticationFailed}, http.DefaultClient, discardLogger())
	store := newTestStore(t)

	err := watchLoop(context.Background(), sess, store, "", time.Hour, nil)
	require.ErrorIs(t, err, auth.ErrAuthenticationFailed)
}

func TestWatchLoop_TransientFailureContinues(t *testing.T) {
	saveGlobals(t)

	var calls atomic.Int32

	// Every request fails with a server error: passes fail but the loop
	// must keep polling.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"invalidRequest"}}`))
	}))
	defer srv.Close()

	sess := newTestSession(t, srv.URL)
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- watchLoop(ctx, sess, store, "", 10*time.Millisecond, nil)
	}()

	require.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watch loop did not stop after cancellation")
	}
}
