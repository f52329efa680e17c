package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/park285/Cheese-matchd/internal/metrics"
	"github.com/park285/Cheese-matchd/internal/obslog"
	"github.com/park285/Cheese-matchd/internal/protocol"
	"github.com/park285/Cheese-matchd/internal/rules"
	"github.com/park285/Cheese-matchd/internal/session"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Sender delivers payloads to connected users. Delivery is best effort.
type Sender interface {
	SendTo(userID string, p protocol.Payload) bool
	BroadcastTo(userIDs []string, p protocol.Payload) int
}

// Texts renders alert messages; fallback is used when a key is missing.
type Texts interface {
	Text(key string, data any, fallback string) string
}

// Alert codes carried in game_alert.
const (
	AlertAlreadyInGame     = "already_in_game"
	AlertServerBusy        = "server_busy"
	AlertSessionFull       = "session_full"
	AlertNotYourTurn       = "not_your_turn"
	AlertNotParticipant    = "not_participant"
	AlertNotActive         = "not_active"
	AlertIllegalMove       = "illegal_move"
	AlertPromotionRequired = "promotion_required"
	AlertMalformed         = "malformed"
	AlertUnknownType       = "unknown_type"
	AlertInternal          = "internal"
)

var fallbackText = map[string]string{
	AlertAlreadyInGame:     "You are already in a game.",
	AlertServerBusy:        "Server is at capacity. Try again later.",
	AlertSessionFull:       "Game already has two players.",
	AlertNotYourTurn:       "Not your turn.",
	AlertNotParticipant:    "You are not a player in this game.",
	AlertNotActive:         "Game is not in progress.",
	AlertIllegalMove:       "Illegal move.",
	AlertPromotionRequired: "Choose a promotion piece (q, r, b, n).",
	AlertMalformed:         "Could not read message.",
	AlertUnknownType:       "Unknown message type.",
	AlertInternal:          "Something went wrong handling your message.",
}

type Options struct {
	// MaxSessions caps live (WAITING + ACTIVE) sessions. Zero means no cap.
	MaxSessions int
	Engine      rules.Engine
	Recorder    session.Recorder
	Texts       Texts
}

// Stats is a point-in-time count of live sessions.
type Stats struct {
	Live    int `json:"live"`
	Waiting int `json:"waiting"`
	Active  int `json:"active"`
}

// Matchmaker pairs players through a single waiting slot or explicit game ids / room codes,
// and routes every client message to the sender's session.
// Lock order: Matchmaker.mu, then Session.mu. Nothing is sent while mu is held.
type Matchmaker struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	byCode   map[string]*session.Session
	byUser   map[string]*session.Session
	waiting  *session.Session

	out      Sender
	engine   rules.Engine
	recorder session.Recorder
	texts    Texts
	max      int
}

func New(out Sender, opts Options) *Matchmaker {
	engine := opts.Engine
	if engine == nil {
		engine = rules.NewChess()
	}
	return &Matchmaker{
		sessions: make(map[string]*session.Session),
		byCode:   make(map[string]*session.Session),
		byUser:   make(map[string]*session.Session),
		out:      out,
		engine:   engine,
		recorder: opts.Recorder,
		texts:    opts.Texts,
		max:      opts.MaxSessions,
	}
}

// HandleMessage decodes one client frame and dispatches it. Handler panics are
// answered with an internal alert and never leave the caller.
func (m *Matchmaker) HandleMessage(ctx context.Context, p session.Player, frame []byte) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("match_handler_panic", zap.String("user_id", p.ID), zap.Any("panic", r))
			m.alert(p.ID, "", AlertInternal, nil)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	msg, err := protocol.DecodeInbound(frame)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownKind) {
			metrics.FramesReceived.WithLabelValues("unknown").Inc()
			m.alert(p.ID, "", AlertUnknownType, map[string]any{"Type": unknownType(err)})
		} else {
			metrics.FramesReceived.WithLabelValues("malformed").Inc()
			m.alert(p.ID, "", AlertMalformed, nil)
		}
		return err
	}
	metrics.FramesReceived.WithLabelValues(string(msg.Kind())).Inc()

	switch v := msg.(type) {
	case protocol.InitGame:
		m.InitGame(p)
	case protocol.JoinGame:
		m.JoinGame(p, v.GameID)
	case protocol.JoinRoom:
		m.JoinRoom(p, v.RoomCode)
	case protocol.MoveRequest:
		m.Move(p, v)
	case protocol.ExitGame:
		m.Exit(p, v.GameID)
	}
	return nil
}

func unknownType(err error) string {
	var uk *protocol.UnknownKindError
	if errors.As(err, &uk) {
		return uk.Type
	}
	return ""
}

// InitGame pairs p with the waiting player, or opens a new waiting session.
func (m *Matchmaker) InitGame(p session.Player) {
	m.mu.Lock()
	// 동일 사용자가 동시에 2개 이상 대국 진행 불가
	if _, busy := m.byUser[p.ID]; busy {
		m.mu.Unlock()
		m.alert(p.ID, "", AlertAlreadyInGame, nil)
		return
	}
	if s := m.waiting; s != nil {
		if err := s.Join(p); err != nil {
			// 대기 슬롯에 참가 불가능한 세션이 남아 있던 경우
			obslog.L().Warn("match_waiting_slot_stale", zap.String("game_id", s.ID()), zap.Error(err))
			m.waiting = nil
		} else {
			m.waiting = nil
			m.byUser[p.ID] = s
			m.refreshGaugesLocked()
			m.mu.Unlock()
			m.announcePairing(s)
			return
		}
	}
	if m.max > 0 && len(m.sessions) >= m.max {
		m.mu.Unlock()
		obslog.L().Warn("match_capacity_reached", zap.String("user_id", p.ID), zap.Int("limit", m.max))
		m.alert(p.ID, "", AlertServerBusy, map[string]any{"Limit": m.max})
		return
	}
	s, err := m.openLocked(p)
	if err != nil {
		m.mu.Unlock()
		obslog.L().Error("match_session_create_failed", zap.String("user_id", p.ID), zap.Error(err))
		m.alert(p.ID, "", AlertInternal, nil)
		return
	}
	m.waiting = s
	m.refreshGaugesLocked()
	m.mu.Unlock()

	obslog.L().Info("match_session_create",
		zap.String("game_id", s.ID()),
		zap.String("room_code", s.RoomCode()),
		zap.String("white_id", p.ID),
	)
	m.out.SendTo(p.ID, protocol.GameAdded{GameID: s.ID(), RoomCode: s.RoomCode()})
}

func (m *Matchmaker) openLocked(p session.Player) (*session.Session, error) {
	var code string
	for i := 0; i < 5; i++ {
		c, err := newRoomCode()
		if err != nil {
			return nil, err
		}
		if _, taken := m.byCode[c]; !taken {
			code = c
			break
		}
	}
	if code == "" {
		return nil, fmt.Errorf("failed to allocate room code")
	}
	s := session.New(uuid.NewString(), code, p, m.engine, m.recorder)
	m.sessions[s.ID()] = s
	m.byCode[code] = s
	m.byUser[p.ID] = s
	return s, nil
}

// JoinGame seats p in the session with the given id.
func (m *Matchmaker) JoinGame(p session.Player, gameID string) {
	m.mu.Lock()
	s := m.sessions[strings.TrimSpace(gameID)]
	m.join(p, s, protocol.GameNotFound{GameID: gameID})
}

// JoinRoom seats p in the session with the given room code.
func (m *Matchmaker) JoinRoom(p session.Player, code string) {
	m.mu.Lock()
	s := m.byCode[normalizeCode(code)]
	m.join(p, s, protocol.GameNotFound{RoomCode: code})
}

// join runs with m.mu held and releases it.
func (m *Matchmaker) join(p session.Player, s *session.Session, notFound protocol.GameNotFound) {
	if s == nil {
		m.mu.Unlock()
		m.out.SendTo(p.ID, notFound)
		return
	}
	if _, busy := m.byUser[p.ID]; busy {
		m.mu.Unlock()
		m.alert(p.ID, s.ID(), AlertAlreadyInGame, nil)
		return
	}
	if err := s.Join(p); err != nil {
		m.mu.Unlock()
		code := AlertSessionFull
		if errors.Is(err, session.ErrAlreadySeated) {
			code = AlertAlreadyInGame
		}
		m.alert(p.ID, s.ID(), code, map[string]any{"GameID": s.ID()})
		return
	}
	if m.waiting == s {
		m.waiting = nil
	}
	m.byUser[p.ID] = s
	m.refreshGaugesLocked()
	m.mu.Unlock()
	m.announcePairing(s)
}

func (m *Matchmaker) announcePairing(s *session.Session) {
	view := s.Snapshot()
	obslog.L().Info("match_session_start",
		zap.String("game_id", view.ID),
		zap.String("white_id", view.White.ID),
		zap.String("black_id", view.Black.ID),
	)
	joined := protocol.GameJoined{
		GameID:   view.ID,
		RoomCode: view.RoomCode,
		White:    protocol.Player{ID: view.White.ID, Name: view.White.Name},
		Black:    protocol.Player{ID: view.Black.ID, Name: view.Black.Name},
		FEN:      view.FEN,
	}
	joined.Color = string(session.White)
	m.out.SendTo(view.White.ID, joined)
	joined.Color = string(session.Black)
	m.out.SendTo(view.Black.ID, joined)
}

// Move applies req in p's current session and relays it to the opponent.
func (m *Matchmaker) Move(p session.Player, req protocol.MoveRequest) {
	s := m.current(p.ID, req.GameID)
	if s == nil {
		m.out.SendTo(p.ID, protocol.GameNotFound{GameID: req.GameID})
		return
	}
	mv := rules.Move{From: req.Move.From, To: req.Move.To, Promotion: req.Move.Promotion}
	applied, err := s.ApplyMove(p.ID, mv)
	if err != nil {
		m.rejectMove(p, s, mv, err)
		return
	}
	metrics.MovesApplied.Inc()
	obslog.L().Info("match_move",
		zap.String("game_id", s.ID()),
		zap.String("user_id", p.ID),
		zap.String("uci", applied.Move.UCI),
		zap.String("san", applied.Move.SAN),
		zap.Int("ply", applied.Ply),
	)

	if opp, ok := s.Opponent(p.ID); ok {
		m.out.SendTo(opp.ID, protocol.MoveRelay{
			GameID: s.ID(),
			Move:   protocol.Move{From: applied.Move.From, To: applied.Move.To, Promotion: applied.Move.Promotion},
			SAN:    applied.Move.SAN,
			FEN:    applied.FEN,
			Turn:   string(applied.Turn),
			Ply:    applied.Ply,
		})
	}
	if !applied.Finished {
		return
	}
	m.discard(s, applied.Reason)
	white, black := s.Players()
	m.out.BroadcastTo([]string{white.ID, black.ID}, protocol.GameOver{GameResult: protocol.GameResult{
		GameID: s.ID(),
		Reason: string(applied.Reason),
		Result: applied.Result,
		Winner: applied.Winner.ID,
		FEN:    applied.FEN,
	}})
}

func (m *Matchmaker) rejectMove(p session.Player, s *session.Session, mv rules.Move, err error) {
	var code string
	switch {
	case errors.Is(err, session.ErrNotActive):
		code = AlertNotActive
	case errors.Is(err, session.ErrNotParticipant):
		code = AlertNotParticipant
	case errors.Is(err, session.ErrNotYourTurn):
		code = AlertNotYourTurn
	case errors.Is(err, session.ErrPromotionRequired):
		code = AlertPromotionRequired
	default:
		code = AlertIllegalMove
	}
	metrics.MovesRejected.WithLabelValues(code).Inc()
	obslog.L().Debug("match_move_rejected",
		zap.String("game_id", s.ID()),
		zap.String("user_id", p.ID),
		zap.String("uci", mv.UCI()),
		zap.Error(err),
	)
	m.alert(p.ID, s.ID(), code, map[string]any{"GameID": s.ID(), "Move": mv.UCI()})
}

// Exit resigns an ACTIVE session or abandons a WAITING one.
func (m *Matchmaker) Exit(p session.Player, gameID string) {
	m.mu.Lock()
	s := m.currentLocked(p.ID, gameID)
	if s == nil {
		m.mu.Unlock()
		m.out.SendTo(p.ID, protocol.GameNotFound{GameID: gameID})
		return
	}
	reason := session.ReasonResignation
	if s.Status() == session.StatusWaiting {
		reason = session.ReasonAbandoned
	}
	ok := s.Finalize(reason, p.ID)
	if ok {
		m.discardLocked(s, reason)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	obslog.L().Info("match_exit", zap.String("game_id", s.ID()), zap.String("user_id", p.ID), zap.String("reason", string(reason)))

	rec := s.Record()
	ended := protocol.GameEnded{GameResult: protocol.GameResult{
		GameID: s.ID(),
		Reason: string(reason),
		Result: rec.Result,
		Winner: rec.WinnerID,
		FEN:    rec.FinalFEN,
	}}
	m.out.BroadcastTo([]string{rec.White.ID, rec.Black.ID}, ended)
}

// Disconnect handles the loss of userID's connection. The surviving player is told once.
func (m *Matchmaker) Disconnect(userID string) {
	m.mu.Lock()
	s := m.currentLocked(userID, "")
	if s == nil {
		m.mu.Unlock()
		return
	}
	reason := session.ReasonOpponentDisconnected
	if s.Status() == session.StatusWaiting {
		reason = session.ReasonAbandoned
	}
	// Finalize가 true인 호출만 상대에게 알림 (중복 통지 방지)
	ok := s.Finalize(reason, userID)
	if ok {
		m.discardLocked(s, reason)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if reason == session.ReasonAbandoned {
		obslog.L().Info("match_waiting_abandoned", zap.String("game_id", s.ID()), zap.String("user_id", userID))
		return
	}
	obslog.L().Info("match_opponent_disconnected", zap.String("game_id", s.ID()), zap.String("user_id", userID))
	if opp, found := s.Opponent(userID); found {
		m.out.SendTo(opp.ID, protocol.OpponentDisconnected{GameID: s.ID()})
	}
}

// current returns userID's session, or nil when there is none or gameID names another one.
func (m *Matchmaker) current(userID, gameID string) *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked(userID, gameID)
}

func (m *Matchmaker) currentLocked(userID, gameID string) *session.Session {
	s := m.byUser[userID]
	if s == nil {
		return nil
	}
	if id := strings.TrimSpace(gameID); id != "" && id != s.ID() {
		return nil
	}
	return s
}

func (m *Matchmaker) discard(s *session.Session, reason session.Reason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discardLocked(s, reason)
}

// discardLocked drops every index entry pointing at s. Safe to call more than once.
func (m *Matchmaker) discardLocked(s *session.Session, reason session.Reason) {
	if m.sessions[s.ID()] != s {
		return
	}
	delete(m.sessions, s.ID())
	if m.byCode[s.RoomCode()] == s {
		delete(m.byCode, s.RoomCode())
	}
	white, black := s.Players()
	for _, id := range []string{white.ID, black.ID} {
		if id != "" && m.byUser[id] == s {
			delete(m.byUser, id)
		}
	}
	if m.waiting == s {
		m.waiting = nil
	}
	metrics.SessionsFinished.WithLabelValues(string(reason)).Inc()
	m.refreshGaugesLocked()
}

// Session returns a live session by id.
func (m *Matchmaker) Session(gameID string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[gameID]
	return s, ok
}

// SessionOf returns the live session userID is seated in.
func (m *Matchmaker) SessionOf(userID string) (*session.Session, bool) {
	s := m.current(userID, "")
	return s, s != nil
}

func (m *Matchmaker) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

func (m *Matchmaker) statsLocked() Stats {
	live := lo.Values(m.sessions)
	return Stats{
		Live:    len(live),
		Waiting: lo.CountBy(live, func(s *session.Session) bool { return s.Status() == session.StatusWaiting }),
		Active:  lo.CountBy(live, func(s *session.Session) bool { return s.Status() == session.StatusActive }),
	}
}

func (m *Matchmaker) refreshGaugesLocked() {
	st := m.statsLocked()
	metrics.SessionsLive.WithLabelValues(string(session.StatusWaiting)).Set(float64(st.Waiting))
	metrics.SessionsLive.WithLabelValues(string(session.StatusActive)).Set(float64(st.Active))
}

func (m *Matchmaker) alert(userID, gameID, code string, data map[string]any) {
	msg := fallbackText[code]
	if m.texts != nil {
		msg = m.texts.Text("alert."+code, data, msg)
	}
	m.out.SendTo(userID, protocol.GameAlert{GameID: gameID, Code: code, Message: msg})
}
