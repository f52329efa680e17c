package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	nchess "github.com/corentings/chess/v2"
)

var (
	ErrMalformedMove     = errors.New("malformed move")
	ErrIllegalMove       = errors.New("illegal move")
	ErrPromotionRequired = errors.New("promotion piece required")
	ErrBadPosition       = errors.New("invalid position")
)

// Terminal describes why a position ends the game. Empty means the game goes on.
type Terminal string

const (
	NotTerminal Terminal = ""
	Checkmate   Terminal = "checkmate"
	Stalemate   Terminal = "stalemate"
	Draw        Terminal = "draw"
)

// Move is a candidate move in long algebraic squares.
type Move struct {
	From      string
	To        string
	Promotion string
}

// UCI returns the move as a UCI token (e2e4, e7e8q).
func (m Move) UCI() string {
	return strings.ToLower(strings.TrimSpace(m.From) + strings.TrimSpace(m.To) + strings.TrimSpace(m.Promotion))
}

// Result is returned for a legal move.
type Result struct {
	Position  string
	SAN       string
	UCI       string
	Piece     string
	Promotion string
	Terminal  Terminal
	// Method is the library's outcome method in lower case, e.g. "insufficientmaterial".
	Method string
}

// Engine validates a move against a position and returns the resulting position.
// Implementations are stateless.
type Engine interface {
	InitialPosition() string
	Apply(position string, mv Move) (Result, error)
}

// Chess implements Engine on top of corentings/chess.
type Chess struct{}

func NewChess() *Chess { return &Chess{} }

func (*Chess) InitialPosition() string { return nchess.NewGame().FEN() }

func (c *Chess) Apply(position string, mv Move) (Result, error) {
	game, err := gameFrom(position)
	if err != nil {
		return Result{}, err
	}
	uci := mv.UCI()
	if !wellFormed(uci) {
		return Result{}, fmt.Errorf("%w: %q", ErrMalformedMove, uci)
	}
	pos := game.Position()
	decoded, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	piece := pos.Board().Piece(decoded.S1())
	if piece == nchess.NoPiece || piece.Color() != pos.Turn() {
		return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}

	if err := game.Move(decoded, nil); err != nil {
		if len(uci) == 4 && needsPromotion(position, uci) {
			return Result{}, fmt.Errorf("%w: %s", ErrPromotionRequired, uci)
		}
		return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}

	res := Result{
		Position: game.FEN(),
		SAN:      nchess.AlgebraicNotation{}.Encode(pos, decoded),
		UCI:      uci,
		Piece:    pieceCode(piece),
	}
	if len(uci) == 5 {
		res.Promotion = uci[4:]
	}
	res.Terminal, res.Method = terminalOf(game)
	return res, nil
}

func wellFormed(uci string) bool {
	if len(uci) != 4 && len(uci) != 5 {
		return false
	}
	for i := 0; i < 4; i += 2 {
		if uci[i] < 'a' || uci[i] > 'h' || uci[i+1] < '1' || uci[i+1] > '8' {
			return false
		}
	}
	return len(uci) == 4 || strings.ContainsRune("qrbn", rune(uci[4]))
}

// needsPromotion reports whether uci becomes legal once a queen promotion is added.
func needsPromotion(position, uci string) bool {
	game, err := gameFrom(position)
	if err != nil {
		return false
	}
	mv, err := nchess.UCINotation{}.Decode(game.Position(), uci+"q")
	if err != nil {
		return false
	}
	return game.Move(mv, nil) == nil
}

func terminalOf(game *nchess.Game) (Terminal, string) {
	method := strings.ToLower(game.Method().String())
	switch game.Outcome() {
	case nchess.WhiteWon, nchess.BlackWon:
		if game.Method() == nchess.Checkmate {
			return Checkmate, method
		}
	case nchess.Draw:
		if game.Method() == nchess.Stalemate {
			return Stalemate, method
		}
		return Draw, method
	}
	return NotTerminal, ""
}

func gameFrom(position string) (*nchess.Game, error) {
	position = strings.TrimSpace(position)
	if position == "" || position == "startpos" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(position)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPosition, err)
	}
	return nchess.NewGame(opt), nil
}

// pieceCode renders a piece as color + upper-case type, e.g. "wP", "bN".
func pieceCode(p nchess.Piece) string {
	return p.Color().String() + strings.ToUpper(p.Type().String())
}

// Turn returns "white" or "black" for the side to move in position.
func Turn(position string) string {
	game, err := gameFrom(position)
	if err != nil {
		return ""
	}
	if game.Position().Turn() == nchess.White {
		return "white"
	}
	return "black"
}

// PositionHash is the xxhash64 of a FEN, hex encoded.
func PositionHash(position string) string {
	return strconv.FormatUint(xxhash.Sum64String(strings.TrimSpace(position)), 16)
}
