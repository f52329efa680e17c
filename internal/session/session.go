package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/park285/Cheese-matchd/internal/obslog"
	"github.com/park285/Cheese-matchd/internal/rules"
	"go.uber.org/zap"
)

// Session is one pairing. All mutations go through mu; the recorder is called after mu is released.
type Session struct {
	mu sync.Mutex

	id   string
	code string

	white Player
	black Player
	// seated is 1 while WAITING and 2 once the second player joined.
	seated int

	fen     string
	turn    Side
	history []MoveRecord

	status Status
	reason Reason
	winner Side

	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	engine   rules.Engine
	recorder Recorder
	recorded bool
	now      func() time.Time
}

type Option func(*Session)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates a WAITING session with creator seated as white.
func New(id, code string, creator Player, engine rules.Engine, recorder Recorder, opts ...Option) *Session {
	s := &Session{
		id:       strings.TrimSpace(id),
		code:     strings.TrimSpace(code),
		white:    creator,
		seated:   1,
		turn:     White,
		status:   StatusWaiting,
		engine:   engine,
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fen = engine.InitialPosition()
	s.createdAt = s.now()
	return s
}

func (s *Session) ID() string       { return s.id }
func (s *Session) RoomCode() string { return s.code }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Join seats p as black and activates the session.
func (s *Session) Join(p Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaiting || s.seated >= 2 {
		return ErrSessionFull
	}
	if p.ID == s.white.ID {
		return ErrAlreadySeated
	}
	s.black = p
	s.seated = 2
	s.status = StatusActive
	s.startedAt = s.now()
	return nil
}

// SideOf returns the side userID plays, or "" when not seated.
func (s *Session) SideOf(userID string) Side {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sideOfLocked(userID)
}

func (s *Session) sideOfLocked(userID string) Side {
	switch {
	case userID == "":
		return ""
	case userID == s.white.ID:
		return White
	case s.seated == 2 && userID == s.black.ID:
		return Black
	}
	return ""
}

// Opponent returns the other seated player of userID.
func (s *Session) Opponent(userID string) (Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.sideOfLocked(userID) {
	case White:
		return s.black, s.seated == 2
	case Black:
		return s.white, true
	}
	return Player{}, false
}

// Players returns the seated players (black is zero while WAITING).
func (s *Session) Players() (white, black Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.white, s.black
}

// ApplyMove validates mv for userID and applies it. State is untouched on any error.
func (s *Session) ApplyMove(userID string, mv rules.Move) (Applied, error) {
	s.mu.Lock()
	applied, rec, err := s.applyLocked(userID, mv)
	s.mu.Unlock()
	if rec != nil {
		s.handOff(*rec)
	}
	return applied, err
}

func (s *Session) applyLocked(userID string, mv rules.Move) (Applied, *Record, error) {
	if s.status != StatusActive {
		return Applied{}, nil, ErrNotActive
	}
	// 참가자/턴 검증
	side := s.sideOfLocked(userID)
	if side == "" {
		return Applied{}, nil, ErrNotParticipant
	}
	if side != s.turn {
		return Applied{}, nil, ErrNotYourTurn
	}

	// 규칙 엔진 적용. 거부 시 상태는 그대로 유지
	res, err := s.callEngine(mv)
	if err != nil {
		if errors.Is(err, rules.ErrPromotionRequired) {
			return Applied{}, nil, fmt.Errorf("%w: %s", ErrPromotionRequired, mv.UCI())
		}
		return Applied{}, nil, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}

	record := MoveRecord{
		From:         strings.ToLower(strings.TrimSpace(mv.From)),
		To:           strings.ToLower(strings.TrimSpace(mv.To)),
		Piece:        res.Piece,
		Promotion:    res.Promotion,
		UCI:          res.UCI,
		SAN:          res.SAN,
		PositionHash: rules.PositionHash(res.Position),
		PlayedAt:     s.now(),
	}
	s.fen = res.Position
	s.history = append(s.history, record)
	s.turn = s.turn.Other()

	applied := Applied{
		Move: record,
		FEN:  s.fen,
		Turn: s.turn,
		Ply:  len(s.history),
	}

	var rec *Record
	switch res.Terminal {
	case rules.Checkmate:
		rec = s.finishLocked(ReasonCheckmate, side)
	case rules.Stalemate:
		rec = s.finishLocked(ReasonStalemate, "")
	case rules.Draw:
		rec = s.finishLocked(ReasonDraw, "")
	}
	if s.status == StatusFinished {
		applied.Finished = true
		applied.Reason = s.reason
		applied.Result = pgnResult(s.winner, s.reason)
		applied.Winner = s.playerLocked(s.winner)
	}
	return applied, rec, nil
}

// callEngine: 엔진 패닉은 세션으로 전파하지 않고 수 거부로 처리.
func (s *Session) callEngine(mv rules.Move) (res rules.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("match_rules_engine_panic",
				zap.String("game_id", s.id),
				zap.String("uci", mv.UCI()),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("rules engine failure: %v", r)
		}
	}()
	return s.engine.Apply(s.fen, mv)
}

// Finalize ends the session. byUserID is the player whose action ended it
// (resigner, disconnected player); the opponent wins for resignation and disconnection.
// Only the first call has an effect and returns true.
func (s *Session) Finalize(reason Reason, byUserID string) bool {
	s.mu.Lock()
	if s.status == StatusFinished {
		s.mu.Unlock()
		return false
	}
	var winner Side
	switch reason {
	case ReasonResignation, ReasonOpponentDisconnected:
		if side := s.sideOfLocked(byUserID); side != "" && s.seated == 2 {
			winner = side.Other()
		}
	}
	rec := s.finishLocked(reason, winner)
	s.mu.Unlock()
	if rec != nil {
		s.handOff(*rec)
	}
	return true
}

// finishLocked moves the session to FINISHED. It returns the record to persist,
// or nil when the game never started or was already recorded.
func (s *Session) finishLocked(reason Reason, winner Side) *Record {
	wasActive := s.status == StatusActive
	s.status = StatusFinished
	s.reason = reason
	s.winner = winner
	s.finishedAt = s.now()
	if !wasActive || s.recorded {
		return nil
	}
	s.recorded = true
	rec := s.recordLocked()
	return &rec
}

func (s *Session) handOff(rec Record) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(rec)
}

func (s *Session) playerLocked(side Side) Player {
	switch side {
	case White:
		return s.white
	case Black:
		return s.black
	}
	return Player{}
}

func (s *Session) recordLocked() Record {
	return Record{
		SessionID:  s.id,
		RoomCode:   s.code,
		White:      s.white,
		Black:      s.black,
		Moves:      append([]MoveRecord(nil), s.history...),
		Reason:     s.reason,
		Result:     pgnResult(s.winner, s.reason),
		WinnerID:   s.playerLocked(s.winner).ID,
		FinalFEN:   s.fen,
		CreatedAt:  s.createdAt,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
	}
}

// Record returns the current record of the session, finished or not.
func (s *Session) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ID:         s.id,
		RoomCode:   s.code,
		Status:     s.status,
		Reason:     s.reason,
		White:      s.white,
		Black:      s.black,
		Turn:       s.turn,
		FEN:        s.fen,
		Moves:      append([]MoveRecord(nil), s.history...),
		Winner:     s.winner,
		CreatedAt:  s.createdAt,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
	}
}

// Replay applies history from the initial position and returns the final FEN.
func Replay(engine rules.Engine, history []MoveRecord) (string, error) {
	fen := engine.InitialPosition()
	for i, mv := range history {
		res, err := engine.Apply(fen, rules.Move{From: mv.From, To: mv.To, Promotion: mv.Promotion})
		if err != nil {
			return "", fmt.Errorf("replay ply %d (%s): %w", i+1, mv.UCI, err)
		}
		if h := rules.PositionHash(res.Position); mv.PositionHash != "" && h != mv.PositionHash {
			return "", fmt.Errorf("replay ply %d (%s): position hash mismatch", i+1, mv.UCI)
		}
		fen = res.Position
	}
	return fen, nil
}
