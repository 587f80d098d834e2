package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gomok/api"
	"github.com/jmcleod/gomok/config"
	"github.com/jmcleod/gomok/relay"
	"github.com/jmcleod/gomok/storage"
)

func resolveArgs(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	cmd, opts := newServerCmd()
	require.NoError(t, cmd.ParseFlags(args))
	return opts.resolve(cmd)
}

func TestResolve_Defaults(t *testing.T) {
	cfg, err := resolveArgs(t)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestResolve_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gomok.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 4000
  registration_limit: 5
session:
  poll_timeout: 20s
history:
  backend: none
`), 0o600))

	cfg, err := resolveArgs(t, "--config", path, "--poll-timeout", "10s", "--trusted-proxies", "10.0.0.0/8,192.168.0.1")
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port, "unset flags keep file values")
	assert.Equal(t, 5, cfg.Server.RegistrationLimit)
	assert.Equal(t, 10*time.Second, cfg.Session.PollTimeout)
	assert.Equal(t, config.HistoryNone, cfg.History.Backend)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.1"}, cfg.Server.TrustedProxies)
}

func TestResolve_BoltFlagGetsDefaultPath(t *testing.T) {
	cfg, err := resolveArgs(t, "--history", "bbolt")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultHistoryPath, cfg.History.Path)
}

func TestResolve_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"ttl below poll", []string{"--session-ttl", "10s"}, "session.ttl"},
		{"postgres without dsn", []string{"--history", "postgres"}, "history.dsn"},
		{"bad level", []string{"--log-level", "chatty"}, "log.level"},
		{"half tls", []string{"--tls-cert", "cert.pem"}, "--tls-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolveArgs(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOpenHistory(t *testing.T) {
	ctx := t.Context()

	repo, closeFn, err := openHistory(ctx, config.HistoryConfig{Backend: config.HistoryNone})
	require.NoError(t, err)
	assert.Nil(t, repo)
	assert.NoError(t, closeFn())

	repo, closeFn, err = openHistory(ctx, config.HistoryConfig{Backend: config.HistoryMemory})
	require.NoError(t, err)
	assert.NotNil(t, repo)
	assert.NoError(t, closeFn())

	path := filepath.Join(t.TempDir(), "nested", "history.db")
	repo, closeFn, err = openHistory(ctx, config.HistoryConfig{Backend: config.HistoryBolt, Path: path})
	require.NoError(t, err)
	require.NoError(t, repo.Put(ctx, &storage.MatchRecord{MatchID: "m1", MatchedAt: time.Now()}))
	assert.NoError(t, closeFn())
	assert.FileExists(t, path)

	_, _, err = openHistory(ctx, config.HistoryConfig{Backend: "redis"})
	assert.Error(t, err)
}

func TestHandler_RootProtocolAndHealth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := relay.NewStore(relay.WithLogger(logger))
	defer store.Close()
	a := api.New(store, api.WithLogger(logger), api.WithRegistrationLimit(-1))
	srv := httptest.NewServer(newHandler(a))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	for _, path := range []string{"/", "/api/v1/"} {
		body := bytes.NewBufferString(`{"id":"c-` + path + `","value":{"register":{"matchingKey":""}}}`)
		resp, err := http.Post(srv.URL+path, "application/json", body)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
	assert.Equal(t, 2, store.Stats().Sessions)
}

func TestAlertFunc_ForwardsToWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		received int
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received++
		mu.Unlock()
	}))
	defer hook.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	webhook := api.NewAlertWebhook(hook.URL, "", logger)
	alertFunc(logger, webhook)(api.AlertEvent{Type: api.AlertExpirationSpike, Count: 3})
	webhook.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, received)

	// Without a webhook alerts are only logged.
	alertFunc(logger, nil)(api.AlertEvent{Type: api.AlertRegistrationFlood})
}

func TestRunServer_ShutsDownOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 38471
	cfg.History.Backend = config.HistoryNone

	ctx, cancel := context.WithCancel(t.Context())
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, cfg, &serverOptions{}, &out) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Contains(t, out.String(), "Starting server on port 38471")
}
