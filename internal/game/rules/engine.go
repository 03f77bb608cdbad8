package rules

import (
	"errors"
	"fmt"
)

// ErrIllegal is wrapped by every move-rejection reason so callers can treat
// all of them as a single rejection class.
var ErrIllegal = errors.New("illegal move")

// Outcome classifies a terminal check on a position.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCheckmate
	OutcomeStalemate
)

// Result reports whether a position is terminal. Winner is meaningful only
// for OutcomeCheckmate.
type Result struct {
	Outcome Outcome
	Winner  Color
}

// Engine validates proposed moves and detects terminal positions.
// Implementations must be pure: Validate never mutates its input.
type Engine interface {
	// Validate checks mv against pos and returns the resulting position,
	// or an error wrapping ErrIllegal describing the rejection.
	Validate(pos *Position, mv Move) (*Position, error)
	// Terminal reports whether pos is checkmate or stalemate for the side
	// to move.
	Terminal(pos *Position) Result
}

// Standard implements the ordinary rules of chess, including castling,
// en passant, and promotion. Draw-by-repetition and the fifty-move rule
// are not tracked.
type Standard struct{}

// NewStandard returns the standard rule engine.
func NewStandard() Standard { return Standard{} }

// Validate implements Engine.
func (Standard) Validate(pos *Position, mv Move) (*Position, error) {
	if mv.From < 0 || mv.From > 63 || mv.To < 0 || mv.To > 63 {
		return nil, fmt.Errorf("%w: square off board", ErrIllegal)
	}
	if mv.From == mv.To {
		return nil, fmt.Errorf("%w: move goes nowhere", ErrIllegal)
	}

	pc := pos.board[mv.From]
	if pc.IsEmpty() {
		return nil, fmt.Errorf("%w: no piece on %s", ErrIllegal, mv.From)
	}
	if pc.Color != pos.turn {
		return nil, fmt.Errorf("%w: %s piece on %s, %s to move", ErrIllegal, pc.Color, mv.From, pos.turn)
	}
	if dst := pos.board[mv.To]; !dst.IsEmpty() && dst.Color == pc.Color {
		return nil, fmt.Errorf("%w: own piece on %s", ErrIllegal, mv.To)
	}

	if pc.Type == Pawn && lastRank(mv.To, pc.Color) {
		switch mv.Promotion {
		case Knight, Bishop, Rook, Queen:
		case NoPiece:
			return nil, fmt.Errorf("%w: promotion required on %s", ErrIllegal, mv.To)
		default:
			return nil, fmt.Errorf("%w: cannot promote to %c", ErrIllegal, byte(mv.Promotion))
		}
	} else if mv.Promotion != NoPiece {
		return nil, fmt.Errorf("%w: promotion only on the last rank", ErrIllegal)
	}

	if !pseudoLegal(pos, pc, mv) {
		return nil, fmt.Errorf("%w: %s cannot move %s to %s", ErrIllegal, pieceName(pc.Type), mv.From, mv.To)
	}

	next := apply(pos, pc, mv)
	if ksq := next.kingSquare(pc.Color); ksq != NoSquare && attacked(next, ksq, pc.Color.Opponent()) {
		return nil, fmt.Errorf("%w: leaves king in check", ErrIllegal)
	}
	return next, nil
}

// Terminal implements Engine.
func (e Standard) Terminal(pos *Position) Result {
	if hasLegalMove(e, pos) {
		return Result{Outcome: OutcomeNone}
	}
	ksq := pos.kingSquare(pos.turn)
	if ksq != NoSquare && attacked(pos, ksq, pos.turn.Opponent()) {
		return Result{Outcome: OutcomeCheckmate, Winner: pos.turn.Opponent()}
	}
	return Result{Outcome: OutcomeStalemate}
}

func pieceName(pt PieceType) string {
	switch pt {
	case Pawn:
		return "pawn"
	case Knight:
		return "knight"
	case Bishop:
		return "bishop"
	case Rook:
		return "rook"
	case Queen:
		return "queen"
	case King:
		return "king"
	}
	return "piece"
}

func lastRank(sq Square, c Color) bool {
	if c == White {
		return sq.Rank() == 7
	}
	return sq.Rank() == 0
}

// pseudoLegal checks the movement pattern and path for pc moving mv,
// ignoring whether the mover's king is left in check.
func pseudoLegal(pos *Position, pc Piece, mv Move) bool {
	df := mv.To.File() - mv.From.File()
	dr := mv.To.Rank() - mv.From.Rank()

	switch pc.Type {
	case Pawn:
		return pawnLegal(pos, pc.Color, mv, df, dr)
	case Knight:
		return (abs(df) == 1 && abs(dr) == 2) || (abs(df) == 2 && abs(dr) == 1)
	case Bishop:
		return abs(df) == abs(dr) && clearPath(pos, mv.From, mv.To)
	case Rook:
		return (df == 0 || dr == 0) && clearPath(pos, mv.From, mv.To)
	case Queen:
		return (df == 0 || dr == 0 || abs(df) == abs(dr)) && clearPath(pos, mv.From, mv.To)
	case King:
		if abs(df) <= 1 && abs(dr) <= 1 {
			return true
		}
		return castleLegal(pos, pc.Color, mv, df, dr)
	}
	return false
}

func pawnLegal(pos *Position, c Color, mv Move, df, dr int) bool {
	forward := 1
	startRank := 1
	if c == Black {
		forward = -1
		startRank = 6
	}

	// Straight pushes never capture.
	if df == 0 {
		if !pos.board[mv.To].IsEmpty() {
			return false
		}
		if dr == forward {
			return true
		}
		if dr == 2*forward && mv.From.Rank() == startRank {
			mid := squareAt(mv.From.File(), mv.From.Rank()+forward)
			return pos.board[mid].IsEmpty()
		}
		return false
	}

	// Diagonal captures, including en passant.
	if abs(df) == 1 && dr == forward {
		if dst := pos.board[mv.To]; !dst.IsEmpty() {
			return dst.Color != c
		}
		return mv.To == pos.enPassant
	}
	return false
}

func castleLegal(pos *Position, c Color, mv Move, df, dr int) bool {
	if dr != 0 || abs(df) != 2 {
		return false
	}

	rank := 0
	if c == Black {
		rank = 7
	}
	if mv.From != squareAt(4, rank) {
		return false
	}

	kingside := df == 2
	right := castleWhiteKingside
	switch {
	case c == White && !kingside:
		right = castleWhiteQueenside
	case c == Black && kingside:
		right = castleBlackKingside
	case c == Black && !kingside:
		right = castleBlackQueenside
	}
	if !pos.castle[right] {
		return false
	}

	// Squares between king and rook must be empty.
	rookFile := 7
	if !kingside {
		rookFile = 0
	}
	step := 1
	if !kingside {
		step = -1
	}
	for f := 4 + step; f != rookFile; f += step {
		if !pos.board[squareAt(f, rank)].IsEmpty() {
			return false
		}
	}

	// The rook must still be home.
	if rook := pos.board[squareAt(rookFile, rank)]; rook.Type != Rook || rook.Color != c {
		return false
	}

	// The king may not castle out of, through, or into check.
	enemy := c.Opponent()
	for _, f := range []int{4, 4 + step, 4 + 2*step} {
		if attacked(pos, squareAt(f, rank), enemy) {
			return false
		}
	}
	return true
}

// clearPath reports whether every square strictly between from and to is
// empty. Caller guarantees the squares share a rank, file, or diagonal.
func clearPath(pos *Position, from, to Square) bool {
	df := sign(to.File() - from.File())
	dr := sign(to.Rank() - from.Rank())
	f, r := from.File()+df, from.Rank()+dr
	for f != to.File() || r != to.Rank() {
		if !pos.board[squareAt(f, r)].IsEmpty() {
			return false
		}
		f += df
		r += dr
	}
	return true
}

// apply produces the position after mv; mv must already be pseudo-legal.
func apply(pos *Position, pc Piece, mv Move) *Position {
	next := pos.clone()

	capture := !next.board[mv.To].IsEmpty()

	next.board[mv.To] = pc
	next.board[mv.From] = Piece{}

	switch pc.Type {
	case Pawn:
		if mv.To == pos.enPassant && mv.From.File() != mv.To.File() {
			// En passant removes the bypassed pawn.
			next.board[squareAt(mv.To.File(), mv.From.Rank())] = Piece{}
			capture = true
		}
		if mv.Promotion != NoPiece {
			next.board[mv.To] = Piece{Type: mv.Promotion, Color: pc.Color}
		}
	case King:
		if pc.Color == White {
			next.castle[castleWhiteKingside] = false
			next.castle[castleWhiteQueenside] = false
		} else {
			next.castle[castleBlackKingside] = false
			next.castle[castleBlackQueenside] = false
		}
		if df := mv.To.File() - mv.From.File(); abs(df) == 2 {
			// Castling also moves the rook.
			rank := mv.From.Rank()
			if df > 0 {
				next.board[squareAt(5, rank)] = next.board[squareAt(7, rank)]
				next.board[squareAt(7, rank)] = Piece{}
			} else {
				next.board[squareAt(3, rank)] = next.board[squareAt(0, rank)]
				next.board[squareAt(0, rank)] = Piece{}
			}
		}
	}

	// Moving or losing a rook revokes the matching castling right.
	for _, rc := range []struct {
		sq    Square
		right int
	}{
		{squareAt(0, 0), castleWhiteQueenside},
		{squareAt(7, 0), castleWhiteKingside},
		{squareAt(0, 7), castleBlackQueenside},
		{squareAt(7, 7), castleBlackKingside},
	} {
		if mv.From == rc.sq || mv.To == rc.sq {
			next.castle[rc.right] = false
		}
	}

	next.enPassant = NoSquare
	if pc.Type == Pawn && abs(mv.To.Rank()-mv.From.Rank()) == 2 {
		next.enPassant = squareAt(mv.From.File(), (mv.From.Rank()+mv.To.Rank())/2)
	}

	if pc.Type == Pawn || capture {
		next.halfmove = 0
	} else {
		next.halfmove++
	}
	if pc.Color == Black {
		next.fullmove++
	}
	next.turn = pc.Color.Opponent()
	return next
}

var knightOffsets = [8][2]int{
	{1, 2}, {2, 1}, {2, -1}, {1, -2},
	{-1, -2}, {-2, -1}, {-2, 1}, {-1, 2},
}

var kingOffsets = [8][2]int{
	{0, 1}, {1, 1}, {1, 0}, {1, -1},
	{0, -1}, {-1, -1}, {-1, 0}, {-1, 1},
}

// attacked reports whether sq is attacked by any piece of color by.
func attacked(pos *Position, sq Square, by Color) bool {
	file, rank := sq.File(), sq.Rank()

	// Pawns attack diagonally toward their movement direction.
	pawnRank := rank - 1
	if by == Black {
		pawnRank = rank + 1
	}
	for _, df := range []int{-1, 1} {
		f := file + df
		if f >= 0 && f <= 7 && pawnRank >= 0 && pawnRank <= 7 {
			if pc := pos.board[squareAt(f, pawnRank)]; pc.Type == Pawn && pc.Color == by {
				return true
			}
		}
	}

	for _, off := range knightOffsets {
		f, r := file+off[0], rank+off[1]
		if f >= 0 && f <= 7 && r >= 0 && r <= 7 {
			if pc := pos.board[squareAt(f, r)]; pc.Type == Knight && pc.Color == by {
				return true
			}
		}
	}

	for _, off := range kingOffsets {
		f, r := file+off[0], rank+off[1]
		if f >= 0 && f <= 7 && r >= 0 && r <= 7 {
			if pc := pos.board[squareAt(f, r)]; pc.Type == King && pc.Color == by {
				return true
			}
		}
	}

	// Sliding attacks along each ray until a piece blocks.
	for _, off := range kingOffsets {
		diagonal := off[0] != 0 && off[1] != 0
		f, r := file+off[0], rank+off[1]
		for f >= 0 && f <= 7 && r >= 0 && r <= 7 {
			pc := pos.board[squareAt(f, r)]
			if !pc.IsEmpty() {
				if pc.Color == by {
					if pc.Type == Queen {
						return true
					}
					if diagonal && pc.Type == Bishop {
						return true
					}
					if !diagonal && pc.Type == Rook {
						return true
					}
				}
				break
			}
			f += off[0]
			r += off[1]
		}
	}
	return false
}

// hasLegalMove reports whether the side to move has at least one legal move.
func hasLegalMove(e Engine, pos *Position) bool {
	for from := Square(0); from < 64; from++ {
		pc := pos.board[from]
		if pc.IsEmpty() || pc.Color != pos.turn {
			continue
		}
		for to := Square(0); to < 64; to++ {
			mv := Move{From: from, To: to}
			if pc.Type == Pawn && lastRank(to, pc.Color) {
				mv.Promotion = Queen
			}
			if _, err := e.Validate(pos, mv); err == nil {
				return true
			}
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}
