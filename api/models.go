package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jmcleod/gomok/relay"
	"github.com/jmcleod/gomok/storage"
)

// Command names a protocol operation.
type Command string

const (
	CommandRegister   Command = "register"
	CommandMatch      Command = "match"
	CommandHandshake  Command = "handshake"
	CommandMove       Command = "move"
	CommandNextMove   Command = "nextMove"
	CommandDisconnect Command = "disconnect"
	CommandPing       Command = "ping"
)

// commandTokens maps the bare string values a request may carry.
var commandTokens = map[string]Command{
	"match":      CommandMatch,
	"MATCH":      CommandMatch,
	"handshake":  CommandHandshake,
	"HANDSHAKE":  CommandHandshake,
	"nextMove":   CommandNextMove,
	"NEXT_MOVE":  CommandNextMove,
	"disconnect": CommandDisconnect,
	"DISCONNECT": CommandDisconnect,
	"ping":       CommandPing,
	"PING":       CommandPing,
}

// Request is the envelope every protocol message uses.
type Request struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value"`
}

// RegisterValue is the payload of a register command.
type RegisterValue struct {
	Info        json.RawMessage `json:"info,omitempty"`
	MatchingKey string          `json:"matchingKey"`
}

// Poll outcome markers. They are written as bare JSON strings.
const (
	PollTimeout      = "timeout"
	PollDisconnected = "disconnected"
)

// PollResult is the body of a poll that completed.
type PollResult struct {
	OK    bool `json:"ok"`
	Value any  `json:"value"`
}

// MatchValue is the value of a completed match poll.
type MatchValue struct {
	OK     bool            `json:"ok"`
	Info   json.RawMessage `json:"info"`
	Seed   int             `json:"seed"`
	Number int             `json:"number"`
}

// HandshakeValue is the value of a completed handshake poll.
const HandshakeValue = "ok"

// Empty is the body of a fire-and-forget command.
type Empty struct{}

// ErrorResponse is returned for HTTP-level failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MatchListResponse is returned by the match history listing.
type MatchListResponse struct {
	Matches []*storage.MatchRecord `json:"matches"`
	Limit   int                    `json:"limit"`
}

// command is a decoded request value.
type command struct {
	kind     Command
	register RegisterValue
	move     relay.Move
}

// parseCommand decodes the value of a request: either a bare command token
// or an object with exactly one of the keys "register" or "move".
func parseCommand(raw json.RawMessage) (command, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return command{}, fmt.Errorf("%w: missing value", errMalformedRequest)
	}

	switch raw[0] {
	case '"':
		var tok string
		if err := json.Unmarshal(raw, &tok); err != nil {
			return command{}, fmt.Errorf("%w: %v", errMalformedRequest, err)
		}
		kind, ok := commandTokens[tok]
		if !ok {
			return command{}, fmt.Errorf("%w: unknown command %q", errMalformedRequest, tok)
		}
		return command{kind: kind}, nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return command{}, fmt.Errorf("%w: %v", errMalformedRequest, err)
		}
		if len(obj) != 1 {
			return command{}, fmt.Errorf("%w: value must have exactly one key", errMalformedRequest)
		}
		if v, ok := obj["register"]; ok {
			var reg RegisterValue
			if err := json.Unmarshal(v, &reg); err != nil {
				return command{}, fmt.Errorf("%w: register: %v", errMalformedRequest, err)
			}
			return command{kind: CommandRegister, register: reg}, nil
		}
		if v, ok := obj["move"]; ok {
			var m relay.Move
			if err := json.Unmarshal(v, &m); err != nil {
				return command{}, err
			}
			return command{kind: CommandMove, move: m}, nil
		}
	}
	return command{}, fmt.Errorf("%w: unrecognised value", errMalformedRequest)
}
