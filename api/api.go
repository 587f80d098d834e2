// Package api exposes the relay protocol over HTTP long polling and a
// websocket, plus read-only match history, stats and API documentation.
package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/gorilla/websocket"

	"github.com/jmcleod/gomok/relay"
	"github.com/jmcleod/gomok/storage"
)

// DefaultPollTimeout bounds how long one HTTP poll is held open.
const DefaultPollTimeout = 30 * time.Second

// API holds the dependencies needed by the HTTP handlers.
type API struct {
	store          *relay.Store
	history        storage.Repository
	pollTimeout    time.Duration
	trustedProxies []netip.Prefix
	limiter        *registrationIPLimiter
	metrics        *metricsCollector
	events         *eventLogger
	upgrader       websocket.Upgrader
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for protocol events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.events = newEventLogger(logger)
	}
}

// WithPollTimeout sets how long an HTTP poll waits before answering with
// the timeout marker.
func WithPollTimeout(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.pollTimeout = d
		}
	}
}

// WithHistory serves match records from repo.
func WithHistory(repo storage.Repository) Option {
	return func(a *API) {
		a.history = repo
	}
}

// WithTrustedProxies configures the CIDR ranges whose proxy headers are
// believed when deriving a client IP for rate limiting.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithRegistrationLimit sets how many registrations one client IP may make
// before it is locked out. A non-positive limit disables throttling.
func WithRegistrationLimit(n int) Option {
	return func(a *API) {
		a.limiter = newRegistrationIPLimiter(n)
	}
}

// WithAlertFunc sets the callback invoked when an anomaly threshold is
// crossed.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.metrics = newMetricsCollector(fn)
	}
}

// New creates a new API instance serving store.
func New(store *relay.Store, opts ...Option) *API {
	a := &API{
		store:       store,
		pollTimeout: DefaultPollTimeout,
		limiter:     newRegistrationIPLimiter(DefaultRegistrationLimit),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.events == nil {
		a.events = newEventLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	a.events.metrics = a.metrics
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/", a.Protocol)
	r.Get("/ws", a.WebSocket)
	r.Get("/stats", a.Stats)
	r.Get("/matches", a.ListMatches)
	r.Get("/matches/{matchID}", a.GetMatch)

	return r
}

// StartMaintenance runs the periodic housekeeping of the API until ctx is
// done: sweeping expired rate-limit records and feeding reaper evictions to
// the alert collector.
func (a *API) StartMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = relay.DefaultReapInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := a.store.Stats().Expired
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.limiter.sweep()
				expired := a.store.Stats().Expired
				a.metrics.recordExpirations(int(expired - last))
				last = expired
			}
		}
	}()
}
