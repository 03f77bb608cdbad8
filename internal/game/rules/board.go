// Package rules implements the chess rule engine consumed by game sessions:
// board representation, move legality, and terminal position detection.
package rules

import (
	"fmt"
	"strings"
)

// Color identifies one of the two sides.
type Color uint8

const (
	White Color = iota
	Black
)

// String returns the lowercase color name used on the wire.
func (c Color) String() string {
	if c == White {
		return "white"
	}
	return "black"
}

// Opponent returns the other color.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// ParseColor parses "white" or "black".
func ParseColor(s string) (Color, error) {
	switch s {
	case "white":
		return White, nil
	case "black":
		return Black, nil
	default:
		return White, fmt.Errorf("unknown color %q", s)
	}
}

// PieceType is the uppercase piece letter: P, N, B, R, Q, K.
type PieceType byte

const (
	NoPiece PieceType = 0
	Pawn    PieceType = 'P'
	Knight  PieceType = 'N'
	Bishop  PieceType = 'B'
	Rook    PieceType = 'R'
	Queen   PieceType = 'Q'
	King    PieceType = 'K'
)

// ParsePieceType parses a single piece letter, case-insensitive.
func ParsePieceType(s string) (PieceType, error) {
	if len(s) != 1 {
		return NoPiece, fmt.Errorf("invalid piece %q", s)
	}
	c := s[0]
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	switch PieceType(c) {
	case Pawn, Knight, Bishop, Rook, Queen, King:
		return PieceType(c), nil
	default:
		return NoPiece, fmt.Errorf("invalid piece %q", s)
	}
}

// Piece is a colored piece; the zero value means an empty square.
type Piece struct {
	Type  PieceType
	Color Color
}

// IsEmpty reports whether the square holds no piece.
func (p Piece) IsEmpty() bool { return p.Type == NoPiece }

func (p Piece) fenRune() byte {
	if p.Color == White {
		return byte(p.Type)
	}
	return byte(p.Type) + ('a' - 'A')
}

// Square indexes the board 0..63; a1 is 0, h1 is 7, a8 is 56.
type Square int

// NoSquare marks the absence of a square (e.g. no en passant target).
const NoSquare Square = -1

// File returns the file 0..7 (a..h).
func (sq Square) File() int { return int(sq) % 8 }

// Rank returns the rank 0..7 (1..8).
func (sq Square) Rank() int { return int(sq) / 8 }

// String returns the algebraic name, e.g. "e4".
func (sq Square) String() string {
	if sq == NoSquare {
		return "-"
	}
	return string([]byte{byte('a' + sq.File()), byte('1' + sq.Rank())})
}

// ParseSquare parses an algebraic square name like "e2".
func ParseSquare(s string) (Square, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return NoSquare, fmt.Errorf("invalid square %q", s)
	}
	return Square(int(s[1]-'1')*8 + int(s[0]-'a')), nil
}

func squareAt(file, rank int) Square { return Square(rank*8 + file) }

// Move is a proposed piece movement. Promotion is NoPiece unless the move
// promotes a pawn.
type Move struct {
	From      Square
	To        Square
	Promotion PieceType
}

// String returns the move in coordinate notation, e.g. "e7e8Q".
func (m Move) String() string {
	s := m.From.String() + m.To.String()
	if m.Promotion != NoPiece {
		s += string(byte(m.Promotion))
	}
	return s
}

// Castling right indices.
const (
	castleWhiteKingside = iota
	castleWhiteQueenside
	castleBlackKingside
	castleBlackQueenside
)

// Position is an immutable board state. Mutating operations return a new
// Position; sessions version positions through their own move counter.
type Position struct {
	board     [64]Piece
	turn      Color
	castle    [4]bool
	enPassant Square
	halfmove  int
	fullmove  int
}

// Initial returns the standard chess starting position.
func Initial() *Position {
	p := &Position{
		turn:      White,
		castle:    [4]bool{true, true, true, true},
		enPassant: NoSquare,
		fullmove:  1,
	}

	back := []PieceType{Rook, Knight, Bishop, Queen, King, Bishop, Knight, Rook}
	for file, pt := range back {
		p.board[squareAt(file, 0)] = Piece{Type: pt, Color: White}
		p.board[squareAt(file, 1)] = Piece{Type: Pawn, Color: White}
		p.board[squareAt(file, 6)] = Piece{Type: Pawn, Color: Black}
		p.board[squareAt(file, 7)] = Piece{Type: pt, Color: Black}
	}
	return p
}

// Turn returns the color to move.
func (p *Position) Turn() Color { return p.turn }

// PieceAt returns the piece on sq, if any.
func (p *Position) PieceAt(sq Square) (Piece, bool) {
	if sq < 0 || sq > 63 {
		return Piece{}, false
	}
	pc := p.board[sq]
	return pc, !pc.IsEmpty()
}

func (p *Position) clone() *Position {
	c := *p
	return &c
}

// FEN returns the Forsyth-Edwards encoding of the position.
func (p *Position) FEN() string {
	var sb strings.Builder
	for rank := 7; rank >= 0; rank-- {
		empty := 0
		for file := 0; file < 8; file++ {
			pc := p.board[squareAt(file, rank)]
			if pc.IsEmpty() {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteByte(byte('0' + empty))
				empty = 0
			}
			sb.WriteByte(pc.fenRune())
		}
		if empty > 0 {
			sb.WriteByte(byte('0' + empty))
		}
		if rank > 0 {
			sb.WriteByte('/')
		}
	}

	sb.WriteByte(' ')
	if p.turn == White {
		sb.WriteByte('w')
	} else {
		sb.WriteByte('b')
	}

	sb.WriteByte(' ')
	rights := ""
	if p.castle[castleWhiteKingside] {
		rights += "K"
	}
	if p.castle[castleWhiteQueenside] {
		rights += "Q"
	}
	if p.castle[castleBlackKingside] {
		rights += "k"
	}
	if p.castle[castleBlackQueenside] {
		rights += "q"
	}
	if rights == "" {
		rights = "-"
	}
	sb.WriteString(rights)

	sb.WriteByte(' ')
	sb.WriteString(p.enPassant.String())
	fmt.Fprintf(&sb, " %d %d", p.halfmove, p.fullmove)
	return sb.String()
}

// FromFEN parses a Forsyth-Edwards encoded position.
//
// Postcondition: Returns a Position equivalent to the encoding, or an error
// describing the first malformed field.
func FromFEN(fen string) (*Position, error) {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return nil, fmt.Errorf("fen has %d fields, want at least 4", len(fields))
	}

	p := &Position{enPassant: NoSquare, fullmove: 1}

	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return nil, fmt.Errorf("fen board has %d ranks, want 8", len(ranks))
	}
	for i, row := range ranks {
		rank := 7 - i
		file := 0
		for j := 0; j < len(row); j++ {
			c := row[j]
			if c >= '1' && c <= '8' {
				file += int(c - '0')
				continue
			}
			if file > 7 {
				return nil, fmt.Errorf("fen rank %d overflows", rank+1)
			}
			color := White
			if c >= 'a' && c <= 'z' {
				color = Black
				c -= 'a' - 'A'
			}
			switch PieceType(c) {
			case Pawn, Knight, Bishop, Rook, Queen, King:
				p.board[squareAt(file, rank)] = Piece{Type: PieceType(c), Color: color}
			default:
				return nil, fmt.Errorf("fen has invalid piece %q", row[j])
			}
			file++
		}
		if file != 8 {
			return nil, fmt.Errorf("fen rank %d has %d files, want 8", rank+1, file)
		}
	}

	switch fields[1] {
	case "w":
		p.turn = White
	case "b":
		p.turn = Black
	default:
		return nil, fmt.Errorf("fen has invalid side to move %q", fields[1])
	}

	if fields[2] != "-" {
		for _, c := range fields[2] {
			switch c {
			case 'K':
				p.castle[castleWhiteKingside] = true
			case 'Q':
				p.castle[castleWhiteQueenside] = true
			case 'k':
				p.castle[castleBlackKingside] = true
			case 'q':
				p.castle[castleBlackQueenside] = true
			default:
				return nil, fmt.Errorf("fen has invalid castling right %q", c)
			}
		}
	}

	if fields[3] != "-" {
		sq, err := ParseSquare(fields[3])
		if err != nil {
			return nil, fmt.Errorf("fen en passant: %w", err)
		}
		p.enPassant = sq
	}

	if len(fields) >= 5 {
		fmt.Sscanf(fields[4], "%d", &p.halfmove)
	}
	if len(fields) >= 6 {
		fmt.Sscanf(fields[5], "%d", &p.fullmove)
	}
	return p, nil
}

// kingSquare returns the square of the given color's king, or NoSquare if
// the position has no such king (malformed test positions).
func (p *Position) kingSquare(c Color) Square {
	for sq := Square(0); sq < 64; sq++ {
		pc := p.board[sq]
		if pc.Type == King && pc.Color == c {
			return sq
		}
	}
	return NoSquare
}
