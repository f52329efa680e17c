package session

import (
	"errors"
	"time"
)

// Status represents a session lifecycle state.
type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
)

// Side identifies a chess side.
type Side string

const (
	White Side = "white"
	Black Side = "black"
)

func (s Side) Other() Side {
	if s == White {
		return Black
	}
	return White
}

// Reason tells why a session finished.
type Reason string

const (
	ReasonCheckmate            Reason = "checkmate"
	ReasonStalemate            Reason = "stalemate"
	ReasonDraw                 Reason = "draw"
	ReasonResignation          Reason = "resignation"
	ReasonOpponentDisconnected Reason = "opponent-disconnected"
	ReasonDrawAgreement        Reason = "draw-agreement"
	// ReasonAbandoned closes a WAITING session that never got an opponent.
	ReasonAbandoned Reason = "abandoned"
)

var (
	ErrNotActive         = errors.New("game is not active")
	ErrNotParticipant    = errors.New("user is not part of this game")
	ErrNotYourTurn       = errors.New("not your turn")
	ErrIllegalMove       = errors.New("illegal move")
	ErrPromotionRequired = errors.New("promotion piece required")
	ErrSessionFull       = errors.New("game already has two players")
	ErrAlreadySeated     = errors.New("user already seated in this game")
)

// Player is a seated participant.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MoveRecord is one accepted move.
type MoveRecord struct {
	From         string    `json:"from"`
	To           string    `json:"to"`
	Piece        string    `json:"piece"`
	Promotion    string    `json:"promotion,omitempty"`
	UCI          string    `json:"uci"`
	SAN          string    `json:"san"`
	PositionHash string    `json:"position_hash"`
	PlayedAt     time.Time `json:"played_at"`
}

// Record is the completed game handed to persistence.
type Record struct {
	SessionID  string       `json:"session_id"`
	RoomCode   string       `json:"room_code"`
	White      Player       `json:"white"`
	Black      Player       `json:"black"`
	Moves      []MoveRecord `json:"moves"`
	Reason     Reason       `json:"reason"`
	Result     string       `json:"result"`
	WinnerID   string       `json:"winner_id,omitempty"`
	FinalFEN   string       `json:"final_fen"`
	CreatedAt  time.Time    `json:"created_at"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Recorder receives finished games. Record must not block.
type Recorder interface {
	Record(rec Record)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(rec Record)

func (f RecorderFunc) Record(rec Record) { f(rec) }

// View is a read-only copy of a session.
type View struct {
	ID         string
	RoomCode   string
	Status     Status
	Reason     Reason
	White      Player
	Black      Player
	Turn       Side
	FEN        string
	Moves      []MoveRecord
	Winner     Side
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Applied describes an accepted move.
type Applied struct {
	Move     MoveRecord
	FEN      string
	Turn     Side
	Ply      int
	Finished bool
	Reason   Reason
	Result   string
	Winner   Player
}

func pgnResult(winner Side, reason Reason) string {
	switch reason {
	case ReasonStalemate, ReasonDraw, ReasonDrawAgreement:
		return "1/2-1/2"
	case ReasonAbandoned:
		return "*"
	}
	switch winner {
	case White:
		return "1-0"
	case Black:
		return "0-1"
	default:
		return "*"
	}
}
