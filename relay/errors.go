package relay

import "errors"

var (
	// ErrDuplicateID indicates a registration reused an id that is still live.
	ErrDuplicateID = errors.New("session id already registered")
	// ErrUnknownSession indicates the id was never registered or is gone.
	ErrUnknownSession = errors.New("unknown session")
	// ErrNotMatched indicates a handshake was attempted before pairing.
	ErrNotMatched = errors.New("session not matched")
	// ErrNotEstablished indicates a move operation before the handshake completed.
	ErrNotEstablished = errors.New("session not established")
	// ErrDisconnected indicates the session or its peer has terminally left.
	// It is a protocol outcome rather than a failure.
	ErrDisconnected = errors.New("session disconnected")
	// ErrInvalidMove indicates a move payload that is neither a coordinate
	// pair nor an action token.
	ErrInvalidMove = errors.New("invalid move")
)
