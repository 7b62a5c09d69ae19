// Package tictactoe holds the pure rules for a 3x3 turn-based game.
// The board is never stored: it is always rebuilt by folding the ordered
// move list, so the move log stays the single source of truth.
package tictactoe

import (
	"encoding/json"

	"github.com/google/uuid"
)

// GameType tags matches, stats and queue entries for this game.
const GameType = "tic_tac_toe"

// Mark is a single cell value. The zero value means the cell is empty
// and marshals to JSON null so clients see [null, "X", ...] boards.
type Mark string

const (
	MarkX Mark = "X"
	MarkO Mark = "O"
)

// Board is the 9 cells in row-major order, positions 0-8.
type Board [9]Mark

// Placement is one entry of a match's move list.
type Placement struct {
	Position int
	PlayerID uuid.UUID
}

// The 8 winning lines: 3 rows, 3 columns, 2 diagonals. Checked in this
// fixed order; in a well-formed game at most one line can be complete.
var lines = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

func (m Mark) MarshalJSON() ([]byte, error) {
	if m == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(m))
}

func (m *Mark) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*m = Mark(s)
	return nil
}

// BoardFromMoves folds the move list, in the supplied order, into a board.
// A move at an occupied position is silently ignored, never overwritten;
// so is a move by a player who isn't in either slot. Duplicate entries from
// racing writers therefore cannot corrupt the board.
func BoardFromMoves(moves []Placement, playerX, playerO uuid.UUID) Board {
	var board Board
	for _, m := range moves {
		if !IsValidPosition(m.Position) || board[m.Position] != "" {
			continue
		}
		switch m.PlayerID {
		case playerX:
			board[m.Position] = MarkX
		case playerO:
			board[m.Position] = MarkO
		}
	}
	return board
}

// Winner returns the mark holding a complete line, or "" if there is none.
func Winner(board Board) Mark {
	for _, l := range lines {
		if board[l[0]] != "" && board[l[0]] == board[l[1]] && board[l[1]] == board[l[2]] {
			return board[l[0]]
		}
	}
	return ""
}

// IsDraw reports a full board with no winner.
func IsDraw(board Board) bool {
	for _, c := range board {
		if c == "" {
			return false
		}
	}
	return Winner(board) == ""
}

// CurrentTurn derives whose move is legal next from the mark counts:
// X moves when the counts are equal, including on the empty board.
// There is no stored turn state to drift out of sync.
func CurrentTurn(board Board) Mark {
	x, o := 0, 0
	for _, c := range board {
		switch c {
		case MarkX:
			x++
		case MarkO:
			o++
		}
	}
	if x <= o {
		return MarkX
	}
	return MarkO
}

// IsValidPosition reports whether p names a cell.
func IsValidPosition(p int) bool {
	return p >= 0 && p <= 8
}
