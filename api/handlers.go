package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmcleod/gomok/internal/util"
	"github.com/jmcleod/gomok/relay"
)

// maxRequestBytes caps the size of a protocol message.
const maxRequestBytes = 64 << 10

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errMalformedRequest, err)
	}
	return nil
}

// Protocol handles one protocol message. Poll commands are held open for at
// most the poll timeout; if the client goes away first nothing is written.
func (a *API) Protocol(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := decodeJSON(w, r, &req); err != nil {
		mapError(w, err)
		return
	}

	result, err := a.execute(r.Context(), a.extractClientIP(r), req, a.pollTimeout)
	switch {
	case errors.Is(err, errClientGone):
		return
	case err != nil:
		mapError(w, err)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

// execute runs one protocol message and returns the value to send back.
// A zero timeout lets poll commands wait until ctx is done.
func (a *API) execute(ctx context.Context, remote string, req Request, timeout time.Duration) (any, error) {
	cmd, err := parseCommand(req.Value)
	if err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, fmt.Errorf("missing id: %w", relay.ErrUnknownSession)
	}
	if cmd.kind == CommandRegister {
		return a.register(ctx, remote, req.ID, cmd.register)
	}

	s, err := a.store.Lookup(req.ID)
	if err != nil {
		return nil, err
	}
	a.store.Touch(s)

	switch cmd.kind {
	case CommandPing:
		return Empty{}, nil
	case CommandDisconnect:
		a.store.Disconnect(s)
		a.events.log(ctx, EventDisconnect, remote, s.Fingerprint())
		return Empty{}, nil
	case CommandMove:
		err := a.store.SubmitMove(s, cmd.move)
		if errors.Is(err, relay.ErrDisconnected) {
			return PollDisconnected, nil
		}
		if err != nil {
			return nil, err
		}
		return Empty{}, nil
	}
	return a.poll(ctx, s, cmd.kind, timeout)
}

func (a *API) register(ctx context.Context, remote, id string, reg RegisterValue) (any, error) {
	if blocked, retryAfter := a.limiter.check(remote); blocked {
		a.events.log(ctx, EventRegisterRateLimited, remote, "", slog.Duration("retry_after", retryAfter))
		return nil, &rateLimitedError{retryAfter: retryAfter}
	}
	a.limiter.record(remote)

	s, err := a.store.Register(id, reg.MatchingKey, reg.Info)
	if err != nil {
		a.events.log(ctx, EventRegisterRejected, remote, util.Fingerprint(id), slog.String("reason", err.Error()))
		return nil, err
	}
	a.events.log(ctx, EventRegister, remote, s.Fingerprint(), slog.Bool("public", relay.IsPublicKey(s.Key())))
	return Empty{}, nil
}

// poll races the wait behind kind against the per-request timeout, the
// caller going away and the session disconnecting. Exactly one outcome is
// returned:
//
//   - the wait completed: a PollResult
//   - the session disconnected: the "disconnected" marker
//   - the timeout elapsed: the "timeout" marker
//   - the caller went away: errClientGone, and nothing should be sent
//
// The wait itself belongs to the session, so a timed out or abandoned poll
// leaves no trace and the client simply asks again.
func (a *API) poll(ctx context.Context, s *relay.Session, kind Command, timeout time.Duration) (any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout, errPollTimeout)
		defer cancel()
	}

	value, err := a.await(ctx, s, kind)
	switch {
	case err == nil:
		return PollResult{OK: true, Value: value}, nil
	case errors.Is(err, relay.ErrDisconnected):
		return PollDisconnected, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		if errors.Is(context.Cause(ctx), errPollTimeout) {
			return PollTimeout, nil
		}
		return nil, errClientGone
	default:
		return nil, err
	}
}

func (a *API) await(ctx context.Context, s *relay.Session, kind Command) (any, error) {
	switch kind {
	case CommandMatch:
		m, err := a.store.AwaitMatch(ctx, s)
		if err != nil {
			return nil, err
		}
		return MatchValue{OK: true, Info: m.Info, Seed: m.Seed, Number: m.Number}, nil
	case CommandHandshake:
		if err := a.store.Handshake(ctx, s); err != nil {
			return nil, err
		}
		return HandshakeValue, nil
	case CommandNextMove:
		m, err := a.store.AwaitMove(ctx, s)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %s is not a poll command", errMalformedRequest, kind)
	}
}

// Stats returns a snapshot of the session store.
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.Stats())
}
