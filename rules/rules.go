// Package rules defines the move-legality collaborator consumed by clients
// before they submit a placement. The relay itself never evaluates moves.
package rules

import "fmt"

// Stone is the content of a board point.
type Stone int8

const (
	Empty Stone = iota
	Black
	White
)

func (s Stone) String() string {
	switch s {
	case Black:
		return "black"
	case White:
		return "white"
	default:
		return "empty"
	}
}

// Opponent returns the other colour.
func (s Stone) Opponent() Stone {
	switch s {
	case Black:
		return White
	case White:
		return Black
	default:
		return Empty
	}
}

// StoneFor derives a player's colour from the shared pairing seed and the
// player's pairing number. Both peers compute opposite colours.
func StoneFor(seed, number int) Stone {
	stones := [2]Stone{Black, White}
	return stones[(seed&1)^(number&1)]
}

// Verdict is the result of evaluating a placement.
type Verdict int

const (
	Allowed Verdict = iota
	Wins
	Forbidden
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Wins:
		return "wins"
	case Forbidden:
		return "forbidden"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Board is a read-only view of a square board.
type Board interface {
	Size() int
	At(row, col int) Stone
}

// Evaluator decides whether side may place at (row, col) on b.
type Evaluator interface {
	Evaluate(b Board, side Stone, row, col int) Verdict
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(b Board, side Stone, row, col int) Verdict

func (f EvaluatorFunc) Evaluate(b Board, side Stone, row, col int) Verdict {
	return f(b, side, row, col)
}
