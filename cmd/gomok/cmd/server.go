package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/gomok/api"
	"github.com/jmcleod/gomok/config"
	"github.com/jmcleod/gomok/relay"
	"github.com/jmcleod/gomok/storage"
	bboltstorage "github.com/jmcleod/gomok/storage/bbolt"
	"github.com/jmcleod/gomok/storage/memory"
	"github.com/jmcleod/gomok/storage/postgres"
)

type serverOptions struct {
	configPath        string
	port              int
	pollTimeout       time.Duration
	sessionTTL        time.Duration
	reapInterval      time.Duration
	history           string
	historyPath       string
	historyDSN        string
	trustedProxies    []string
	registrationLimit int
	logLevel          string
	alertWebhook      string
	alertWebhookAuth  string
	tlsCert           string
	tlsKey            string
}

func newServerCmd() (*cobra.Command, *serverOptions) {
	opts := &serverOptions{}
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, opts, cmd.OutOrStdout())
		},
	}

	defaults := config.Default()
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML configuration file")
	f.IntVarP(&opts.port, "port", "p", defaults.Server.Port, "Port to listen on")
	f.DurationVar(&opts.pollTimeout, "poll-timeout", defaults.Session.PollTimeout, "How long a poll is held before answering timeout")
	f.DurationVar(&opts.sessionTTL, "session-ttl", defaults.Session.TTL, "Idle time after which a session expires")
	f.DurationVar(&opts.reapInterval, "reap-interval", defaults.Session.ReapInterval, "How often expired sessions are reaped")
	f.StringVar(&opts.history, "history", defaults.History.Backend, "Match history backend: none, memory, bbolt or postgres")
	f.StringVar(&opts.historyPath, "history-path", config.DefaultHistoryPath, "bbolt file for match history")
	f.StringVar(&opts.historyDSN, "history-dsn", "", "Postgres DSN for match history")
	f.StringSliceVar(&opts.trustedProxies, "trusted-proxies", nil, "CIDRs whose forwarding headers are trusted")
	f.IntVar(&opts.registrationLimit, "registration-limit", defaults.Server.RegistrationLimit, "Registrations per IP before lockout (negative disables)")
	f.StringVar(&opts.logLevel, "log-level", defaults.Log.Level, "Log level: debug, info, warn or error")
	f.StringVar(&opts.alertWebhook, "alert-webhook", "", "URL that receives anomaly alerts as JSON")
	f.StringVar(&opts.alertWebhookAuth, "alert-webhook-auth", "", "Authorization header value for the alert webhook")
	f.StringVar(&opts.tlsCert, "tls-cert", "", "Path to TLS certificate file")
	f.StringVar(&opts.tlsKey, "tls-key", "", "Path to TLS key file")
	return cmd, opts
}

func init() {
	cmd, _ := newServerCmd()
	rootCmd.AddCommand(cmd)
}

// resolve loads the configuration file, if any, and applies the flags the
// user set explicitly on top of it.
func (o *serverOptions) resolve(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(o.configPath); err != nil {
			return nil, err
		}
	}

	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Server.Port = o.port
	}
	if f.Changed("poll-timeout") {
		cfg.Session.PollTimeout = o.pollTimeout
	}
	if f.Changed("session-ttl") {
		cfg.Session.TTL = o.sessionTTL
	}
	if f.Changed("reap-interval") {
		cfg.Session.ReapInterval = o.reapInterval
	}
	if f.Changed("history") {
		cfg.History.Backend = o.history
	}
	if f.Changed("history-path") || (cfg.History.Backend == config.HistoryBolt && cfg.History.Path == "") {
		cfg.History.Path = o.historyPath
	}
	if f.Changed("history-dsn") {
		cfg.History.DSN = o.historyDSN
	}
	if f.Changed("trusted-proxies") {
		cfg.Server.TrustedProxies = o.trustedProxies
	}
	if f.Changed("registration-limit") {
		cfg.Server.RegistrationLimit = o.registrationLimit
	}
	if f.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if f.Changed("alert-webhook") {
		cfg.Alert.WebhookURL = o.alertWebhook
	}
	if f.Changed("alert-webhook-auth") {
		cfg.Alert.WebhookAuth = o.alertWebhookAuth
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if (o.tlsCert == "") != (o.tlsKey == "") {
		return nil, errors.New("--tls-cert and --tls-key must be given together")
	}
	return cfg, nil
}

// openHistory opens the configured match history backend. A nil repository
// means history is disabled.
func openHistory(ctx context.Context, cfg config.HistoryConfig) (storage.Repository, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case config.HistoryNone:
		return nil, noop, nil
	case config.HistoryMemory:
		return memory.NewRepository(), noop, nil
	case config.HistoryBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(cfg.Path, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open history storage: %w", err)
		}
		return repo, repo.Close, nil
	case config.HistoryPostgres:
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open history database: %w", err)
		}
		return repo, repo.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
}

// newHandler assembles the HTTP routes. The protocol endpoint is served at
// the root for existing clients as well as under /api/v1.
func newHandler(a *api.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Post("/", a.Protocol)
	r.Mount("/api/v1", a.Router())
	return r
}

func alertFunc(logger *slog.Logger, webhook *api.AlertWebhook) api.AlertFunc {
	logger = logger.With("component", "alerts")
	return func(e api.AlertEvent) {
		logger.Warn(e.Message, "type", e.Type, "count", e.Count, "threshold", e.Threshold)
		if webhook != nil {
			webhook.Notify(e)
		}
	}
}

func runServer(ctx context.Context, cfg *config.Config, opts *serverOptions, out io.Writer) error {
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	proxies, _ := cfg.Proxies()

	repo, closeHistory, err := openHistory(ctx, cfg.History)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeHistory(); err != nil {
			logger.Error("closing history", "error", err)
		}
	}()

	storeOpts := []relay.Option{relay.WithLogger(logger), relay.WithSessionTTL(cfg.Session.TTL)}
	apiOpts := []api.Option{
		api.WithLogger(logger),
		api.WithPollTimeout(cfg.Session.PollTimeout),
		api.WithTrustedProxies(proxies),
		api.WithRegistrationLimit(cfg.Server.RegistrationLimit),
	}
	if repo != nil {
		storeOpts = append(storeOpts, relay.WithHistory(repo))
		apiOpts = append(apiOpts, api.WithHistory(repo))
	}

	var webhook *api.AlertWebhook
	if cfg.Alert.WebhookURL != "" {
		webhook = api.NewAlertWebhook(cfg.Alert.WebhookURL, cfg.Alert.WebhookAuth, logger)
		defer webhook.Close()
	}
	apiOpts = append(apiOpts, api.WithAlertFunc(alertFunc(logger, webhook)))

	store := relay.NewStore(storeOpts...)
	store.StartReaper(cfg.Session.ReapInterval)
	defer store.Close()

	a := api.New(store, apiOpts...)
	maintCtx, cancelMaint := context.WithCancel(ctx)
	defer cancelMaint()
	a.StartMaintenance(maintCtx, cfg.Session.ReapInterval)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newHandler(a),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Long polls are held for the poll timeout before answering.
		WriteTimeout: cfg.Session.PollTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if opts.tlsCert != "" {
			cert, lerr := tls.LoadX509KeyPair(opts.tlsCert, opts.tlsKey)
			if lerr != nil {
				done <- fmt.Errorf("failed to load TLS key pair: %w", lerr)
				return
			}
			server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	printBanner(out)
	fmt.Fprintf(out, "Starting server on port %d (history: %s)...\n", cfg.Server.Port, cfg.History.Backend)

	select {
	case <-ctx.Done():
		fmt.Fprintln(out, "\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}
