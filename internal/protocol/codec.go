package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownKind = errors.New("unknown message type")
)

// UnknownKindError carries the type of a frame no handler accepts.
type UnknownKindError struct {
	Type string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownKind, e.Type)
}

func (e *UnknownKindError) Is(target error) bool { return target == ErrUnknownKind }

// Envelope is the frame exchanged over the websocket.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Marshal wraps p into an envelope and encodes it.
func Marshal(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("marshal: nil payload")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	return json.Marshal(Envelope{Type: p.Kind(), Payload: body})
}

// DecodeInbound parses a client frame into its typed payload.
// Only client->server kinds are accepted.
func DecodeInbound(frame []byte) (Payload, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	kind := Kind(strings.ToLower(strings.TrimSpace(string(env.Type))))
	switch kind {
	case KindInitGame:
		return InitGame{}, nil
	case KindJoinGame:
		var p JoinGame
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.GameID) == "" {
			return nil, fmt.Errorf("%w: gameId required", ErrMalformed)
		}
		return p, nil
	case KindJoinRoom:
		var p JoinRoom
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.RoomCode) == "" {
			return nil, fmt.Errorf("%w: roomCode required", ErrMalformed)
		}
		return p, nil
	case KindMove:
		var p MoveRequest
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Move.From) == "" || strings.TrimSpace(p.Move.To) == "" {
			return nil, fmt.Errorf("%w: move requires from and to", ErrMalformed)
		}
		return p, nil
	case KindExitGame:
		var p ExitGame
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, &UnknownKindError{Type: string(env.Type)}
	}
}

// Decode parses any frame, client or server bound. Used by clients.
func Decode(frame []byte) (Payload, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var p Payload
	switch env.Type {
	case KindGameAdded:
		p = &GameAdded{}
	case KindGameJoined:
		p = &GameJoined{}
	case KindGameNotFound:
		p = &GameNotFound{}
	case KindMove:
		p = &MoveRelay{}
	case KindGameAlert:
		p = &GameAlert{}
	case KindGameOver:
		p = &GameOver{}
	case KindGameEnded:
		p = &GameEnded{}
	case KindOpponentDisconnected:
		p = &OpponentDisconnected{}
	default:
		return DecodeInbound(frame)
	}
	if err := decodePayload(env.Payload, p); err != nil {
		return nil, err
	}
	return deref(p), nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *GameAdded:
		return *v
	case *GameJoined:
		return *v
	case *GameNotFound:
		return *v
	case *MoveRelay:
		return *v
	case *GameAlert:
		return *v
	case *GameOver:
		return *v
	case *GameEnded:
		return *v
	case *OpponentDisconnected:
		return *v
	default:
		return p
	}
}
