package api

import (
	"context"
	"log/slog"
	"time"
)

// Event identifies a protocol event worth logging.
type Event string

const (
	EventRegister            Event = "register"
	EventRegisterRejected    Event = "register_rejected"
	EventRegisterRateLimited Event = "register_rate_limited"
	EventDisconnect          Event = "disconnect"
	EventSocketOpened        Event = "socket_opened"
	EventSocketClosed        Event = "socket_closed"
)

// eventLogger wraps slog.Logger for structured protocol event logging.
type eventLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func newEventLogger(logger *slog.Logger) *eventLogger {
	return &eventLogger{
		logger: logger.With("component", "api"),
	}
}

// log writes a structured event entry. client is the fingerprint of the
// session id, never the id itself.
func (el *eventLogger) log(ctx context.Context, event Event, remoteAddr, client string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", remoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if client != "" {
		base = append(base, slog.String("client", client))
	}
	base = append(base, attrs...)
	el.logger.LogAttrs(ctx, slog.LevelInfo, "event", base...)
	el.metrics.recordEvent(event)
}
