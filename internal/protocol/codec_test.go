package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeInbound_Kinds(t *testing.T) {
	cases := []struct {
		frame string
		want  Kind
	}{
		{`{"type":"init_game"}`, KindInitGame},
		{`{"type":"INIT_GAME"}`, KindInitGame},
		{`{"type":"join_game","payload":{"gameId":"g1"}}`, KindJoinGame},
		{`{"type":"join_room","payload":{"roomCode":"CH-ABC123"}}`, KindJoinRoom},
		{`{"type":"move","payload":{"gameId":"g1","move":{"from":"e2","to":"e4"}}}`, KindMove},
		{`{"type":"exit_game","payload":{"gameId":"g1"}}`, KindExitGame},
		{`{"type":"exit_game"}`, KindExitGame},
	}
	for _, tc := range cases {
		p, err := DecodeInbound([]byte(tc.frame))
		if err != nil {
			t.Fatalf("DecodeInbound(%s): %v", tc.frame, err)
		}
		if p.Kind() != tc.want {
			t.Fatalf("DecodeInbound(%s) kind=%s want %s", tc.frame, p.Kind(), tc.want)
		}
	}
}

func TestDecodeInbound_Rejects(t *testing.T) {
	cases := []struct {
		frame string
		want  error
	}{
		{`not json`, ErrMalformed},
		{`{"payload":{}}`, ErrMalformed},
		{`{"type":"join_game","payload":{}}`, ErrMalformed},
		{`{"type":"join_room","payload":{"roomCode":" "}}`, ErrMalformed},
		{`{"type":"move","payload":{"move":{"from":"e2"}}}`, ErrMalformed},
		{`{"type":"move","payload":"oops"}`, ErrMalformed},
		{`{"type":"game_added","payload":{"gameId":"x"}}`, ErrUnknownKind},
		{`{"type":"chat","payload":{"text":"hi"}}`, ErrUnknownKind},
	}
	for _, tc := range cases {
		if _, err := DecodeInbound([]byte(tc.frame)); !errors.Is(err, tc.want) {
			t.Fatalf("DecodeInbound(%s) err=%v want %v", tc.frame, err, tc.want)
		}
	}
}

func TestDecodeInbound_UnknownKindCarriesType(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":"Chat: x","payload":{}}`))
	var uk *UnknownKindError
	if !errors.As(err, &uk) {
		t.Fatalf("err=%v, want *UnknownKindError", err)
	}
	if uk.Type != "Chat: x" {
		t.Fatalf("type=%q", uk.Type)
	}
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("errors.Is(ErrUnknownKind) false for %v", err)
	}
}

func TestMarshalEnvelope(t *testing.T) {
	raw, err := Marshal(GameOver{GameResult{GameID: "g1", Reason: "checkmate", Result: "1-0", Winner: "u1", FEN: "x"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var env struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "game_over" {
		t.Fatalf("type=%q", env.Type)
	}
	if env.Payload["reason"] != "checkmate" || env.Payload["gameId"] != "g1" {
		t.Fatalf("payload not flattened: %v", env.Payload)
	}
}

func TestDecode_ServerFrames(t *testing.T) {
	raw, err := Marshal(GameJoined{GameID: "g1", RoomCode: "CH-AAAAAA", White: Player{ID: "a"}, Black: Player{ID: "b"}, Color: "white"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	p, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	joined, ok := p.(GameJoined)
	if !ok {
		t.Fatalf("Decode returned %T", p)
	}
	if joined.Color != "white" || joined.Black.ID != "b" {
		t.Fatalf("unexpected joined payload: %+v", joined)
	}

	raw, _ = Marshal(MoveRelay{GameID: "g1", Move: Move{From: "e2", To: "e4"}, SAN: "e4"})
	p, err = Decode(raw)
	if err != nil {
		t.Fatalf("Decode move: %v", err)
	}
	if mv, ok := p.(MoveRelay); !ok || mv.SAN != "e4" {
		t.Fatalf("Decode move returned %#v", p)
	}
}
