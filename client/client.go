// Package client is a Go client for the gomok relay protocol.
//
// A Conn is one participant: it registers under a matching key, waits for
// a peer, completes the handshake and then exchanges moves. Polls retry
// transparently on the server's timeout marker and on transport errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jmcleod/gomok/internal/syncx"
	"github.com/jmcleod/gomok/internal/util"
	"github.com/jmcleod/gomok/relay"
	"github.com/jmcleod/gomok/rules"
)

var (
	// ErrDisconnected is returned once the session or its peer has left.
	ErrDisconnected = errors.New("disconnected")
	// ErrForbidden is returned by Place when the rules reject a placement.
	ErrForbidden = errors.New("placement forbidden")
	// ErrNotMatched is returned by Place before Match has completed.
	ErrNotMatched = errors.New("not matched")
)

// StatusError is returned when the server answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

const (
	defaultRequestTimeout = 35 * time.Second
	defaultMinBackoff     = 500 * time.Millisecond
	defaultMaxBackoff     = 15 * time.Second
	defaultBackoffFactor  = 1.5

	pollTimeout      = "timeout"
	pollDisconnected = "disconnected"
)

// Conn is one protocol participant.
type Conn struct {
	id       string
	endpoint string
	http     *http.Client
	logger   *slog.Logger

	requestTimeout time.Duration
	minBackoff     time.Duration
	maxBackoff     time.Duration
	backoffFactor  float64

	// moves serialises outgoing moves and board updates.
	moves     *syncx.Mutex
	evaluator rules.Evaluator
	board     *rules.Grid
	stone     rules.Stone
}

// Option configures a Conn.
type Option func(*Conn)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(conn *Conn) {
		conn.http = c
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(conn *Conn) {
		conn.logger = logger
	}
}

// WithRequestTimeout bounds each HTTP request. It should exceed the
// server's poll timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(conn *Conn) {
		conn.requestTimeout = d
	}
}

// WithBackoff sets the retry delays after transport errors.
func WithBackoff(lo, hi time.Duration, factor float64) Option {
	return func(conn *Conn) {
		conn.minBackoff, conn.maxBackoff, conn.backoffFactor = lo, hi, factor
	}
}

// WithRules validates placements locally with ev on a board of the given
// size before sending them.
func WithRules(ev rules.Evaluator, size int) Option {
	return func(conn *Conn) {
		conn.evaluator = ev
		conn.board = rules.NewGrid(size)
	}
}

// New returns a Conn with a fresh random id that talks to endpoint, the URL
// of the protocol endpoint (for example "http://localhost:3000/").
func New(endpoint string, opts ...Option) *Conn {
	c := &Conn{
		id:             uuid.NewString(),
		endpoint:       endpoint,
		http:           http.DefaultClient,
		requestTimeout: defaultRequestTimeout,
		minBackoff:     defaultMinBackoff,
		maxBackoff:     defaultMaxBackoff,
		backoffFactor:  defaultBackoffFactor,
		moves:          syncx.NewMutex(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	c.logger = c.logger.With("component", "client", "client", util.Fingerprint(c.id))
	return c
}

// ID returns the session id. It is the only credential of the session.
func (c *Conn) ID() string { return c.id }

// NewRoomKey returns a random private room key to share with a friend.
func NewRoomKey() (string, error) {
	return util.RandomChars(6)
}

// MatchResult is what a client learns about its pairing.
type MatchResult struct {
	Info   json.RawMessage `json:"info"`
	Seed   int             `json:"seed"`
	Number int             `json:"number"`
}

// Stone returns the colour this side plays.
func (m MatchResult) Stone() rules.Stone {
	return rules.StoneFor(m.Seed, m.Number)
}

// Register creates the session under key. info is shown to the peer.
func (c *Conn) Register(ctx context.Context, info any, key string) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding info: %w", err)
	}
	value := map[string]any{"register": map[string]any{"info": json.RawMessage(raw), "matchingKey": key}}
	_, err = c.send(ctx, value)
	return err
}

// Match waits for a peer.
func (c *Conn) Match(ctx context.Context) (MatchResult, error) {
	raw, err := c.poll(ctx, "match")
	if err != nil {
		return MatchResult{}, err
	}
	var m MatchResult
	if err := json.Unmarshal(raw, &m); err != nil {
		return MatchResult{}, fmt.Errorf("decoding match: %w", err)
	}
	if m.Number != 0 && m.Number != 1 {
		return MatchResult{}, fmt.Errorf("invalid pairing number %d", m.Number)
	}
	c.stone = m.Stone()
	c.logger.Debug("matched", "number", m.Number, "stone", c.stone.String())
	return m, nil
}

// Handshake waits until the peer is also handshaking.
func (c *Conn) Handshake(ctx context.Context) error {
	raw, err := c.poll(ctx, "handshake")
	if err != nil {
		return err
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil || v != "ok" {
		return fmt.Errorf("unexpected handshake result %s", raw)
	}
	return nil
}

// Move sends m to the peer without consulting the rules.
func (c *Conn) Move(ctx context.Context, m relay.Move) error {
	if err := c.moves.Lock(ctx); err != nil {
		return err
	}
	defer c.moves.Unlock()
	return c.sendMove(ctx, m)
}

// Place evaluates a placement against the local board, then sends it. It
// returns ErrForbidden without sending when the rules reject it. Without
// WithRules it behaves like Move.
func (c *Conn) Place(ctx context.Context, row, col int) (rules.Verdict, error) {
	if err := c.moves.Lock(ctx); err != nil {
		return rules.Forbidden, err
	}
	defer c.moves.Unlock()

	verdict := rules.Allowed
	if c.evaluator != nil {
		if c.stone == rules.Empty {
			return rules.Forbidden, ErrNotMatched
		}
		verdict = c.evaluator.Evaluate(c.board, c.stone, row, col)
		if verdict == rules.Forbidden {
			return verdict, ErrForbidden
		}
	}
	if err := c.sendMove(ctx, relay.Place(row, col)); err != nil {
		return verdict, err
	}
	if c.board != nil {
		if err := c.board.Place(c.stone, row, col); err != nil {
			return verdict, err
		}
	}
	return verdict, nil
}

func (c *Conn) sendMove(ctx context.Context, m relay.Move) error {
	_, err := c.send(ctx, map[string]any{"move": m})
	return err
}

// NextMove waits for the peer's next move. With WithRules the move is
// recorded on the local board.
func (c *Conn) NextMove(ctx context.Context) (relay.Move, error) {
	raw, err := c.poll(ctx, "nextMove")
	if err != nil {
		return relay.Move{}, err
	}
	var m relay.Move
	if err := json.Unmarshal(raw, &m); err != nil {
		return relay.Move{}, err
	}

	if c.board != nil && m.Action == relay.ActionPlace {
		if err := c.moves.Lock(ctx); err != nil {
			return m, err
		}
		defer c.moves.Unlock()
		if c.board.At(m.Row, m.Col) == rules.Empty {
			if err := c.board.Place(c.stone.Opponent(), m.Row, m.Col); err != nil {
				return m, err
			}
		}
	}
	return m, nil
}

// Board returns the local board, or nil without WithRules.
func (c *Conn) Board() rules.Board {
	if c.board == nil {
		return nil
	}
	return c.board
}

// Ping renews the session's idle deadline.
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.send(ctx, "ping")
	return err
}

// Disconnect ends the session. The peer observes a disconnect.
func (c *Conn) Disconnect(ctx context.Context) error {
	_, err := c.send(ctx, "disconnect")
	return err
}

// pollResult is the body of a completed poll.
type pollResult struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value"`
}

// poll issues value until the server answers with something other than the
// timeout marker. Transport errors are retried with capped exponential
// backoff; HTTP errors are returned.
func (c *Conn) poll(ctx context.Context, value any) (json.RawMessage, error) {
	delay := time.Duration(0)
	for {
		body, err := c.send(ctx, value)
		var status *StatusError
		switch {
		case err == nil:
		case errors.As(err, &status), errors.Is(err, ErrDisconnected), ctx.Err() != nil:
			return nil, err
		default:
			delay = c.nextDelay(delay)
			c.logger.Warn("poll failed, retrying", "error", err, "delay", delay)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		var marker string
		if json.Unmarshal(body, &marker) == nil {
			if marker == pollTimeout {
				continue
			}
			return nil, fmt.Errorf("unexpected poll marker %q", marker)
		}
		var res pollResult
		if err := json.Unmarshal(body, &res); err != nil || !res.OK {
			return nil, fmt.Errorf("unexpected poll result %s", body)
		}
		return res.Value, nil
	}
}

func (c *Conn) nextDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return c.minBackoff
	}
	return min(time.Duration(float64(prev)*c.backoffFactor), c.maxBackoff)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send performs one request and returns the raw 200 body. The disconnected
// marker is turned into ErrDisconnected.
func (c *Conn) send(ctx context.Context, value any) (json.RawMessage, error) {
	payload, err := json.Marshal(map[string]any{"id": c.id, "value": value})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal(body, &e)
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	var marker string
	if json.Unmarshal(body, &marker) == nil && marker == pollDisconnected {
		return nil, ErrDisconnected
	}
	return body, nil
}
