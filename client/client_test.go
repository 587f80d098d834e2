package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gomok/api"
	"github.com/jmcleod/gomok/client"
	"github.com/jmcleod/gomok/relay"
	"github.com/jmcleod/gomok/rules"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupServer(t *testing.T) string {
	t.Helper()
	store := relay.NewStore(relay.WithLogger(discard()), relay.WithSeedSource(func() int { return 2 }))
	t.Cleanup(func() { _ = store.Close() })
	a := api.New(store,
		api.WithLogger(discard()),
		api.WithPollTimeout(100*time.Millisecond),
		api.WithRegistrationLimit(-1),
	)
	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL + "/api/v1/"
}

func newConn(endpoint string, opts ...client.Option) *client.Conn {
	base := []client.Option{
		client.WithLogger(discard()),
		client.WithRequestTimeout(5 * time.Second),
		client.WithBackoff(10*time.Millisecond, 50*time.Millisecond, 2),
	}
	return client.New(endpoint, append(base, opts...)...)
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type result[T any] struct {
	v   T
	err error
}

func async[T any](fn func() (T, error)) <-chan result[T] {
	ch := make(chan result[T], 1)
	go func() {
		v, err := fn()
		ch <- result[T]{v, err}
	}()
	return ch
}

// pair registers and matches two connections, then completes the handshake.
func pair(t *testing.T, ctx context.Context, a, b *client.Conn, key string) (client.MatchResult, client.MatchResult) {
	t.Helper()
	require.NoError(t, a.Register(ctx, map[string]string{"name": "alice"}, key))
	require.NoError(t, b.Register(ctx, map[string]string{"name": "bob"}, key))

	ma := async(func() (client.MatchResult, error) { return a.Match(ctx) })
	mb, err := b.Match(ctx)
	require.NoError(t, err)
	ra := <-ma
	require.NoError(t, ra.err)

	hs := async(func() (struct{}, error) { return struct{}{}, a.Handshake(ctx) })
	require.NoError(t, b.Handshake(ctx))
	require.NoError(t, (<-hs).err)
	return ra.v, mb
}

func TestMatchAndPlay(t *testing.T) {
	endpoint := setupServer(t)
	ctx := testCtx(t)
	a, b := newConn(endpoint), newConn(endpoint)
	assert.NotEqual(t, a.ID(), b.ID())

	ma, mb := pair(t, ctx, a, b, "room-1")
	assert.Equal(t, 0, ma.Number)
	assert.Equal(t, 1, mb.Number)
	assert.Equal(t, ma.Seed, mb.Seed)
	assert.JSONEq(t, `{"name":"bob"}`, string(ma.Info))
	assert.JSONEq(t, `{"name":"alice"}`, string(mb.Info))
	assert.NotEqual(t, ma.Stone(), mb.Stone())

	require.NoError(t, a.Move(ctx, relay.Place(7, 7)))
	m, err := b.NextMove(ctx)
	require.NoError(t, err)
	assert.Equal(t, relay.Place(7, 7), m)

	require.NoError(t, b.Move(ctx, relay.Pass()))
	m, err = a.NextMove(ctx)
	require.NoError(t, err)
	assert.Equal(t, relay.Pass(), m)

	require.NoError(t, a.Ping(ctx))
}

func TestMatchRetriesAcrossPollTimeouts(t *testing.T) {
	endpoint := setupServer(t)
	ctx := testCtx(t)
	a, b := newConn(endpoint), newConn(endpoint)
	require.NoError(t, a.Register(ctx, nil, "slow"))

	ma := async(func() (client.MatchResult, error) { return a.Match(ctx) })
	// Several server poll timeouts elapse before the peer arrives.
	time.Sleep(350 * time.Millisecond)
	require.NoError(t, b.Register(ctx, nil, "slow"))

	r := <-ma
	require.NoError(t, r.err)
	assert.Equal(t, 0, r.v.Number)
}

func TestPeerDisconnect(t *testing.T) {
	endpoint := setupServer(t)
	ctx := testCtx(t)
	a, b := newConn(endpoint), newConn(endpoint)
	pair(t, ctx, a, b, "room-2")

	next := async(func() (relay.Move, error) { return b.NextMove(ctx) })
	require.NoError(t, a.Disconnect(ctx))

	r := <-next
	assert.ErrorIs(t, r.err, client.ErrDisconnected)
	assert.ErrorIs(t, b.Move(ctx, relay.Place(0, 0)), client.ErrDisconnected)
}

func TestStatusErrors(t *testing.T) {
	endpoint := setupServer(t)
	ctx := testCtx(t)
	a := newConn(endpoint)

	// Unregistered sessions are rejected.
	_, err := a.Match(ctx)
	var status *client.StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusConflict, status.StatusCode)
	assert.NotEmpty(t, status.Message)

	require.NoError(t, a.Register(ctx, nil, ""))
	err = a.Register(ctx, nil, "")
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusConflict, status.StatusCode)
}

func TestPlaceWithRules(t *testing.T) {
	endpoint := setupServer(t)
	ctx := testCtx(t)
	a := newConn(endpoint, client.WithRules(rules.Freestyle{}, 15))
	b := newConn(endpoint, client.WithRules(rules.Freestyle{}, 15))

	_, err := a.Place(ctx, 0, 0)
	assert.ErrorIs(t, err, client.ErrNotMatched)

	_, mb := pair(t, ctx, a, b, "room-3")
	first, second := a, b
	if mb.Stone() == rules.Black {
		first, second = b, a
	}

	verdict, err := first.Place(ctx, 7, 7)
	require.NoError(t, err)
	assert.Equal(t, rules.Allowed, verdict)

	m, err := second.NextMove(ctx)
	require.NoError(t, err)
	assert.Equal(t, relay.Place(7, 7), m)
	assert.Equal(t, first.Board().At(7, 7), second.Board().At(7, 7))

	// The occupied point is rejected locally and never sent.
	_, err = second.Place(ctx, 7, 7)
	assert.ErrorIs(t, err, client.ErrForbidden)
	_, err = second.Place(ctx, 20, 20)
	assert.ErrorIs(t, err, client.ErrForbidden)
}

func TestPollBacksOffOnTransportErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			// Drop the connection without a response.
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		if n == 3 {
			_ = json.NewEncoder(w).Encode("timeout")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "value": "ok"})
	}))
	defer srv.Close()

	c := newConn(srv.URL)
	require.NoError(t, c.Handshake(testCtx(t)))
	assert.EqualValues(t, 4, calls.Load())
}

func TestMatchRejectsInvalidNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":    true,
			"value": map[string]any{"ok": true, "info": nil, "seed": 1, "number": 2},
		})
	}))
	defer srv.Close()

	_, err := newConn(srv.URL).Match(testCtx(t))
	assert.ErrorContains(t, err, "invalid pairing number")
}

func TestPollHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode("timeout")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	_, err := newConn(srv.URL).NextMove(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRoomKey(t *testing.T) {
	k1, err := client.NewRoomKey()
	require.NoError(t, err)
	k2, err := client.NewRoomKey()
	require.NoError(t, err)
	assert.Len(t, k1, 6)
	assert.NotEqual(t, k1, k2)
	assert.False(t, relay.IsPublicKey(k1))
}
