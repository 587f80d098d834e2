package rules

var directions = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

// Freestyle is the unrestricted rule set: any empty point is allowed and
// five or more in a row wins.
type Freestyle struct{}

func (Freestyle) Evaluate(b Board, side Stone, row, col int) Verdict {
	size := b.Size()
	if row < 0 || col < 0 || row >= size || col >= size || b.At(row, col) != Empty {
		return Forbidden
	}
	for _, d := range directions {
		n := 1 + run(b, side, row, col, d[0], d[1]) + run(b, side, row, col, -d[0], -d[1])
		if n >= 5 {
			return Wins
		}
	}
	return Allowed
}

// run counts consecutive side stones from (row, col), exclusive, along (dr, dc).
func run(b Board, side Stone, row, col, dr, dc int) int {
	n := 0
	size := b.Size()
	for r, c := row+dr, col+dc; r >= 0 && c >= 0 && r < size && c < size && b.At(r, c) == side; r, c = r+dr, c+dc {
		n++
	}
	return n
}
