package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gomok/api"
	"github.com/jmcleod/gomok/relay"
	"github.com/jmcleod/gomok/storage/memory"
)

type testServer struct {
	*httptest.Server
	store *relay.Store
}

func setupServer(t *testing.T, opts ...api.Option) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := relay.NewStore(relay.WithLogger(logger), relay.WithSeedSource(func() int { return 77 }))
	t.Cleanup(func() { _ = store.Close() })

	base := []api.Option{
		api.WithLogger(logger),
		api.WithPollTimeout(200 * time.Millisecond),
		api.WithRegistrationLimit(-1),
	}
	a := api.New(store, append(base, opts...)...)
	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store}
}

func send(t *testing.T, srv *testServer, id string, value any) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]any{"id": id, "value": value})
	require.NoError(t, err)
	return sendRaw(t, srv, body)
}

func sendRaw(t *testing.T, srv *testServer, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/api/v1/", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) any {
	t.Helper()
	var v any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func registerPair(t *testing.T, srv *testServer, key string) {
	t.Helper()
	for _, id := range []string{"a1", "a2"} {
		resp := send(t, srv, id, map[string]any{
			"register": map[string]any{"info": map[string]string{"name": id}, "matchingKey": key},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, map[string]any{}, decode(t, resp))
	}
}

// handshakePair polls the handshake from both sides, retrying on timeout
// the way a client does.
func handshakePair(t *testing.T, srv *testServer) {
	t.Helper()
	results := make(chan any, 2)
	deadline := time.Now().Add(5 * time.Second)
	for _, id := range []string{"a1", "a2"} {
		go func() {
			for time.Now().Before(deadline) {
				v, err := pollOnce(srv, id, "handshake")
				if err != nil {
					results <- err
					return
				}
				if v != "timeout" {
					results <- v
					return
				}
			}
			results <- "gave up"
		}()
	}
	for range 2 {
		assert.Equal(t, map[string]any{"ok": true, "value": "ok"}, <-results)
	}
}

func pollOnce(srv *testServer, id string, value any) (any, error) {
	body, err := json.Marshal(map[string]any{"id": id, "value": value})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(srv.URL+"/api/v1/", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var v any
	err = json.NewDecoder(resp.Body).Decode(&v)
	return v, err
}

func TestRegisterAndMatch(t *testing.T) {
	srv := setupServer(t)
	registerPair(t, srv, "public")

	resp := send(t, srv, "a1", "MATCH")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{
		"ok": true,
		"value": map[string]any{
			"ok":     true,
			"info":   map[string]any{"name": "a2"},
			"seed":   float64(77),
			"number": float64(0),
		},
	}, decode(t, resp))

	resp = send(t, srv, "a2", "match")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decode(t, resp).(map[string]any)["value"].(map[string]any)
	assert.Equal(t, float64(1), v["number"])
	assert.Equal(t, float64(77), v["seed"])
}

func TestMatch_TimesOut(t *testing.T) {
	srv := setupServer(t)
	resp := send(t, srv, "a1", map[string]any{"register": map[string]any{"matchingKey": "room"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = send(t, srv, "a1", "match")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "timeout", decode(t, resp))
}

func TestRegister_Duplicate(t *testing.T) {
	srv := setupServer(t)
	reg := map[string]any{"register": map[string]any{"matchingKey": "room"}}
	require.Equal(t, http.StatusOK, send(t, srv, "a1", reg).StatusCode)

	resp := send(t, srv, "a1", reg)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestProtocolErrors(t *testing.T) {
	srv := setupServer(t)
	registerPair(t, srv, "public")

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"not json", `{"id":`, http.StatusBadRequest},
		{"unknown command", `{"id":"a1","value":"dance"}`, http.StatusBadRequest},
		{"two keys", `{"id":"a1","value":{"move":"pass","register":{}}}`, http.StatusBadRequest},
		{"bad move", `{"id":"a1","value":{"move":[1]}}`, http.StatusBadRequest},
		{"missing value", `{"id":"a1"}`, http.StatusBadRequest},
		{"missing id", `{"value":"match"}`, http.StatusConflict},
		{"unknown id", `{"id":"zz","value":"match"}`, http.StatusConflict},
		{"move before handshake", `{"id":"a1","value":{"move":[7,7]}}`, http.StatusConflict},
		{"next move before handshake", `{"id":"a1","value":"nextMove"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := sendRaw(t, srv, []byte(tt.body))
			assert.Equal(t, tt.status, resp.StatusCode)
			var body api.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestHandshake_BeforeMatch(t *testing.T) {
	srv := setupServer(t)
	require.Equal(t, http.StatusOK, send(t, srv, "a1", map[string]any{"register": map[string]any{"matchingKey": "room"}}).StatusCode)
	assert.Equal(t, http.StatusConflict, send(t, srv, "a1", "handshake").StatusCode)
}

func TestFullGame(t *testing.T) {
	srv := setupServer(t)
	registerPair(t, srv, "public")
	handshakePair(t, srv)

	resp := send(t, srv, "a1", map[string]any{"move": []int{7, 7}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{}, decode(t, resp))

	resp = send(t, srv, "a2", "NEXT_MOVE")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"ok": true, "value": []any{float64(7), float64(7)}}, decode(t, resp))

	resp = send(t, srv, "a2", map[string]any{"move": "pass"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = send(t, srv, "a1", "nextMove")
	assert.Equal(t, map[string]any{"ok": true, "value": "pass"}, decode(t, resp))

	// a2 answered, so a1's move is gone and a2 waits again.
	resp = send(t, srv, "a2", "nextMove")
	assert.Equal(t, "timeout", decode(t, resp))

	resp = send(t, srv, "a1", "ping")
	assert.Equal(t, map[string]any{}, decode(t, resp))

	resp = send(t, srv, "a1", "disconnect")
	assert.Equal(t, map[string]any{}, decode(t, resp))

	resp = send(t, srv, "a2", "nextMove")
	assert.Equal(t, "disconnected", decode(t, resp))
	resp = send(t, srv, "a2", map[string]any{"move": "giveUp"})
	assert.Equal(t, "disconnected", decode(t, resp))

	resp = send(t, srv, "a1", "nextMove")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDisconnect_ReleasesPendingPoll(t *testing.T) {
	srv := setupServer(t, api.WithPollTimeout(5*time.Second))
	registerPair(t, srv, "public")
	handshakePair(t, srv)

	got := make(chan any, 1)
	go func() {
		v, err := pollOnce(srv, "a2", "nextMove")
		if err != nil {
			got <- err
			return
		}
		got <- v
	}()

	time.Sleep(50 * time.Millisecond)
	send(t, srv, "a1", "disconnect")
	select {
	case v := <-got:
		assert.Equal(t, "disconnected", v)
	case <-time.After(3 * time.Second):
		t.Fatal("pending poll not released")
	}
}

func TestRegistrationRateLimit(t *testing.T) {
	srv := setupServer(t, api.WithRegistrationLimit(2))
	for _, id := range []string{"r1", "r2"} {
		require.Equal(t, http.StatusOK, send(t, srv, id, map[string]any{"register": map[string]any{"matchingKey": id}}).StatusCode)
	}
	resp := send(t, srv, "r3", map[string]any{"register": map[string]any{"matchingKey": "r3"}})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	_, err := srv.store.Lookup("r3")
	require.ErrorIs(t, err, relay.ErrUnknownSession)
}

func TestStats(t *testing.T) {
	srv := setupServer(t)
	registerPair(t, srv, "public")
	require.Equal(t, http.StatusOK, send(t, srv, "b1", map[string]any{"register": map[string]any{"matchingKey": "room"}}).StatusCode)

	resp, err := http.Get(srv.URL + "/api/v1/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats relay.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, relay.Stats{Sessions: 3, Waiting: 1, Matches: 1}, stats)
}

func TestMatchHistory(t *testing.T) {
	repo := memory.NewRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := relay.NewStore(relay.WithLogger(logger), relay.WithHistory(repo))
	a := api.New(store, api.WithLogger(logger), api.WithHistory(repo))
	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	defer srv.Close()

	_, err := store.Register("p1", "public", nil)
	require.NoError(t, err)
	_, err = store.Register("p2", "public", nil)
	require.NoError(t, err)
	// Close flushes the queued history writes.
	require.NoError(t, store.Close())

	resp, err := http.Get(srv.URL + "/api/v1/matches?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list api.MatchListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Matches, 1)
	assert.Equal(t, 5, list.Limit)
	assert.Equal(t, "public", list.Matches[0].Key)

	resp2, err := http.Get(srv.URL + "/api/v1/matches/" + list.Matches[0].MatchID)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := http.Get(srv.URL + "/api/v1/matches/nope")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestMatchHistory_Disabled(t *testing.T) {
	srv := setupServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/matches")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOpenAPIDocument(t *testing.T) {
	srv := setupServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/openapi.yaml")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "openapi: 3.0.3")
}

func dialSocket(t *testing.T, srv *testServer) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readReply(t *testing.T, conn *websocket.Conn) api.SocketReply {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var reply api.SocketReply
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestWebSocket(t *testing.T) {
	srv := setupServer(t)
	c1 := dialSocket(t, srv)
	c2 := dialSocket(t, srv)

	reg := func(id string) map[string]any {
		return map[string]any{"id": id, "value": map[string]any{"register": map[string]any{"matchingKey": "ws-room"}}}
	}
	require.NoError(t, c1.WriteJSON(reg("w1")))
	reply := readReply(t, c1)
	assert.Equal(t, api.CommandRegister, reply.Command)
	assert.Equal(t, map[string]any{}, reply.Result)

	// Polls over the socket outlive the HTTP poll timeout.
	require.NoError(t, c1.WriteJSON(map[string]any{"id": "w1", "value": "match"}))
	time.Sleep(300 * time.Millisecond)

	require.NoError(t, c2.WriteJSON(reg("w2")))
	readReply(t, c2)

	reply = readReply(t, c1)
	assert.Equal(t, api.CommandMatch, reply.Command)
	result := reply.Result.(map[string]any)
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, float64(0), result["value"].(map[string]any)["number"])

	require.NoError(t, c1.WriteJSON(map[string]any{"id": "w1", "value": "nextMove"}))
	reply = readReply(t, c1)
	assert.Equal(t, http.StatusConflict, reply.Status)
	assert.NotEmpty(t, reply.Error)

	require.NoError(t, c1.WriteMessage(websocket.TextMessage, []byte("{")))
	reply = readReply(t, c1)
	assert.Equal(t, http.StatusBadRequest, reply.Status)
}

func TestWebSocket_CloseKeepsSession(t *testing.T) {
	srv := setupServer(t)
	c1 := dialSocket(t, srv)
	require.NoError(t, c1.WriteJSON(map[string]any{"id": "w1", "value": map[string]any{"register": map[string]any{"matchingKey": "x"}}}))
	readReply(t, c1)
	require.NoError(t, c1.WriteJSON(map[string]any{"id": "w1", "value": "match"}))
	require.NoError(t, c1.Close())

	time.Sleep(50 * time.Millisecond)
	s, err := srv.store.Lookup("w1")
	require.NoError(t, err)
	assert.True(t, srv.store.Waiting(s))
}
