package rules

import (
	"errors"
	"testing"
)

func play(t *testing.T, e Engine, pos string, ucis ...string) (string, Result) {
	t.Helper()
	var res Result
	for _, u := range ucis {
		mv := Move{From: u[0:2], To: u[2:4]}
		if len(u) == 5 {
			mv.Promotion = u[4:]
		}
		var err error
		res, err = e.Apply(pos, mv)
		if err != nil {
			t.Fatalf("Apply(%s): %v", u, err)
		}
		pos = res.Position
	}
	return pos, res
}

func TestApply_LegalMove(t *testing.T) {
	e := NewChess()
	start := e.InitialPosition()
	if Turn(start) != "white" {
		t.Fatalf("initial turn=%q", Turn(start))
	}
	pos, res := play(t, e, start, "e2e4")
	if res.SAN != "e4" || res.Piece != "wP" || res.UCI != "e2e4" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Terminal != NotTerminal {
		t.Fatalf("opening move terminal=%q", res.Terminal)
	}
	if Turn(pos) != "black" {
		t.Fatalf("turn after e4=%q", Turn(pos))
	}
	if PositionHash(pos) == PositionHash(start) {
		t.Fatalf("position hash did not change")
	}
}

func TestApply_Rejections(t *testing.T) {
	e := NewChess()
	start := e.InitialPosition()
	cases := []struct {
		mv   Move
		want error
	}{
		{Move{From: "e2", To: "e5"}, ErrIllegalMove},
		{Move{From: "e7", To: "e5"}, ErrIllegalMove},
		{Move{From: "e3", To: "e4"}, ErrIllegalMove},
		{Move{From: "z9", To: "e4"}, ErrMalformedMove},
		{Move{From: "e2", To: "e4", Promotion: "k"}, ErrMalformedMove},
		{Move{From: "e2"}, ErrMalformedMove},
	}
	for _, tc := range cases {
		if _, err := e.Apply(start, tc.mv); !errors.Is(err, tc.want) {
			t.Fatalf("Apply(%+v) err=%v want %v", tc.mv, err, tc.want)
		}
	}
	if _, err := e.Apply("not a fen", Move{From: "e2", To: "e4"}); !errors.Is(err, ErrBadPosition) {
		t.Fatalf("bad fen err=%v", err)
	}
}

func TestApply_PromotionRequiresPiece(t *testing.T) {
	e := NewChess()
	pos := "8/4P3/8/8/8/8/k7/7K w - - 0 1"
	if _, err := e.Apply(pos, Move{From: "e7", To: "e8"}); !errors.Is(err, ErrPromotionRequired) {
		t.Fatalf("expected ErrPromotionRequired, got %v", err)
	}
	res, err := e.Apply(pos, Move{From: "e7", To: "e8", Promotion: "n"})
	if err != nil {
		t.Fatalf("promotion with piece: %v", err)
	}
	if res.Promotion != "n" || res.UCI != "e7e8n" {
		t.Fatalf("unexpected promotion result: %+v", res)
	}
}

func TestApply_Terminals(t *testing.T) {
	e := NewChess()

	_, res := play(t, e, e.InitialPosition(), "f2f3", "e7e5", "g2g4", "d8h4")
	if res.Terminal != Checkmate {
		t.Fatalf("fool's mate terminal=%q method=%q", res.Terminal, res.Method)
	}

	_, res = play(t, e, "k7/8/8/8/8/8/8/1Q5K w - - 0 1", "b1b6")
	if res.Terminal != Stalemate {
		t.Fatalf("stalemate terminal=%q method=%q", res.Terminal, res.Method)
	}

	_, res = play(t, e, "k7/8/8/8/8/8/1r6/K7 w - - 0 1", "a1b2")
	if res.Terminal != Draw {
		t.Fatalf("bare kings terminal=%q method=%q", res.Terminal, res.Method)
	}
}
