package protocol

// Kind names a message type on the wire.
type Kind string

const (
	KindInitGame             Kind = "init_game"
	KindJoinGame             Kind = "join_game"
	KindJoinRoom             Kind = "join_room"
	KindGameAdded            Kind = "game_added"
	KindGameJoined           Kind = "game_joined"
	KindGameNotFound         Kind = "game_not_found"
	KindMove                 Kind = "move"
	KindGameAlert            Kind = "game_alert"
	KindGameOver             Kind = "game_over"
	KindGameEnded            Kind = "game_ended"
	KindOpponentDisconnected Kind = "opponent_disconnected"
	KindExitGame             Kind = "exit_game"
)

// Payload is implemented by every typed message body.
type Payload interface {
	Kind() Kind
}

// Player identifies a seated participant.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Move is a move as sent by clients: long algebraic squares plus an optional promotion piece (q, r, b, n).
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// client -> server

type InitGame struct{}

type JoinGame struct {
	GameID string `json:"gameId"`
}

type JoinRoom struct {
	RoomCode string `json:"roomCode"`
}

type ExitGame struct {
	GameID string `json:"gameId,omitempty"`
}

// MoveRequest is the client->server move. GameID is optional; when set it must match the sender's session.
type MoveRequest struct {
	GameID string `json:"gameId,omitempty"`
	Move   Move   `json:"move"`
}

// server -> client

type GameAdded struct {
	GameID   string `json:"gameId"`
	RoomCode string `json:"roomCode"`
}

type GameJoined struct {
	GameID   string `json:"gameId"`
	RoomCode string `json:"roomCode"`
	White    Player `json:"white"`
	Black    Player `json:"black"`
	// Color is the receiving client's side.
	Color string `json:"color"`
	FEN   string `json:"fen"`
}

type GameNotFound struct {
	GameID   string `json:"gameId,omitempty"`
	RoomCode string `json:"roomCode,omitempty"`
}

// MoveRelay is the server->client move sent to the opponent after acceptance.
type MoveRelay struct {
	GameID string `json:"gameId"`
	Move   Move   `json:"move"`
	SAN    string `json:"san"`
	FEN    string `json:"fen"`
	Turn   string `json:"turn"`
	Ply    int    `json:"ply"`
}

type GameAlert struct {
	GameID  string `json:"gameId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GameResult is shared by game_over (board terminal) and game_ended (resignation, leave).
type GameResult struct {
	GameID string `json:"gameId"`
	Reason string `json:"reason"`
	Result string `json:"result"`
	Winner string `json:"winner,omitempty"`
	FEN    string `json:"fen"`
}

type GameOver struct{ GameResult }

type GameEnded struct{ GameResult }

type OpponentDisconnected struct {
	GameID string `json:"gameId"`
}

func (InitGame) Kind() Kind             { return KindInitGame }
func (JoinGame) Kind() Kind             { return KindJoinGame }
func (JoinRoom) Kind() Kind             { return KindJoinRoom }
func (ExitGame) Kind() Kind             { return KindExitGame }
func (MoveRequest) Kind() Kind          { return KindMove }
func (GameAdded) Kind() Kind            { return KindGameAdded }
func (GameJoined) Kind() Kind           { return KindGameJoined }
func (GameNotFound) Kind() Kind         { return KindGameNotFound }
func (MoveRelay) Kind() Kind            { return KindMove }
func (GameAlert) Kind() Kind            { return KindGameAlert }
func (GameOver) Kind() Kind             { return KindGameOver }
func (GameEnded) Kind() Kind            { return KindGameEnded }
func (OpponentDisconnected) Kind() Kind { return KindOpponentDisconnected }
