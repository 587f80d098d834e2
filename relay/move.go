package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Action is the kind of a move.
type Action string

const (
	ActionPlace   Action = "place"
	ActionPass    Action = "pass"
	ActionForfeit Action = "giveUp"
)

// Move is one relayed turn. Row and Col are meaningful only for ActionPlace.
//
// On the wire a placement is the pair [row, col] and the other actions are
// their bare string tokens.
type Move struct {
	Action Action
	Row    int
	Col    int
}

// Place returns a stone placement at (row, col).
func Place(row, col int) Move {
	return Move{Action: ActionPlace, Row: row, Col: col}
}

// Pass returns a pass move.
func Pass() Move {
	return Move{Action: ActionPass}
}

// Forfeit returns a give-up move.
func Forfeit() Move {
	return Move{Action: ActionForfeit}
}

func (m Move) String() string {
	if m.Action == ActionPlace {
		return fmt.Sprintf("(%d, %d)", m.Row, m.Col)
	}
	return string(m.Action)
}

// Validate checks that m is a well-formed move.
func (m Move) Validate() error {
	switch m.Action {
	case ActionPass, ActionForfeit:
		return nil
	case ActionPlace:
		if m.Row < 0 || m.Col < 0 {
			return fmt.Errorf("%w: negative coordinate %s", ErrInvalidMove, m)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidMove, m.Action)
	}
}

func (m Move) MarshalJSON() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Action == ActionPlace {
		return json.Marshal([2]int{m.Row, m.Col})
	}
	return json.Marshal(string(m.Action))
}

func (m *Move) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidMove)
	}
	switch data[0] {
	case '"':
		var tok string
		if err := json.Unmarshal(data, &tok); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMove, err)
		}
		switch Action(tok) {
		case ActionPass, ActionForfeit:
			*m = Move{Action: Action(tok)}
			return nil
		}
		return fmt.Errorf("%w: unknown action %q", ErrInvalidMove, tok)
	case '[':
		var pair []int
		if err := json.Unmarshal(data, &pair); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMove, err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("%w: coordinate pair has %d elements", ErrInvalidMove, len(pair))
		}
		mv := Place(pair[0], pair[1])
		if err := mv.Validate(); err != nil {
			return err
		}
		*m = mv
		return nil
	}
	return fmt.Errorf("%w: unexpected payload %s", ErrInvalidMove, data)
}
