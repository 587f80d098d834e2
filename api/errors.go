package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmcleod/gomok/relay"
	"github.com/jmcleod/gomok/storage"
)

var (
	errMalformedRequest = errors.New("malformed request")
	errHistoryDisabled  = errors.New("match history is disabled")
	errPollTimeout      = errors.New("poll timeout")
	errClientGone       = errors.New("client went away")
)

// rateLimitedError carries how long a throttled client must wait.
type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("too many registrations; retry after %s", e.retryAfter.Round(time.Second))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps an error to the HTTP status it is reported with.
func statusFor(err error) int {
	var rl *rateLimitedError
	switch {
	case errors.Is(err, errMalformedRequest), errors.Is(err, relay.ErrInvalidMove):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrDuplicateID),
		errors.Is(err, relay.ErrUnknownSession),
		errors.Is(err, relay.ErrNotMatched),
		errors.Is(err, relay.ErrNotEstablished):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, errHistoryDisabled):
		return http.StatusNotFound
	case errors.As(err, &rl):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func mapError(w http.ResponseWriter, err error) {
	var rl *rateLimitedError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", retryAfterString(rl.retryAfter))
	}
	writeError(w, statusFor(err), err.Error())
}
