package rules

import "errors"

// DefaultSize is the standard board size.
const DefaultSize = 15

// ErrOutOfBounds is returned when a coordinate is outside the board.
var ErrOutOfBounds = errors.New("coordinate out of bounds")

// ErrOccupied is returned when placing on a non-empty point.
var ErrOccupied = errors.New("point occupied")

// Grid is a mutable square board.
type Grid struct {
	size   int
	points []Stone
}

// NewGrid returns an empty board of the given size.
func NewGrid(size int) *Grid {
	if size <= 0 {
		size = DefaultSize
	}
	return &Grid{size: size, points: make([]Stone, size*size)}
}

func (g *Grid) Size() int { return g.size }

// In reports whether (row, col) is on the board.
func (g *Grid) In(row, col int) bool {
	return row >= 0 && col >= 0 && row < g.size && col < g.size
}

func (g *Grid) At(row, col int) Stone {
	if !g.In(row, col) {
		return Empty
	}
	return g.points[row*g.size+col]
}

// Place puts s at (row, col).
func (g *Grid) Place(s Stone, row, col int) error {
	if !g.In(row, col) {
		return ErrOutOfBounds
	}
	if g.points[row*g.size+col] != Empty {
		return ErrOccupied
	}
	g.points[row*g.size+col] = s
	return nil
}
