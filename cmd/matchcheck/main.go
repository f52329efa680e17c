package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/Cheese-matchd/internal/admin"
	"github.com/park285/Cheese-matchd/internal/protocol"
	"github.com/park285/Cheese-matchd/internal/wsclient"
)

// matchcheck pairs two clients against a running matchd, plays 1. e4 and exits.
func main() {
	wsURL := os.Getenv("MATCHD_WS_URL")
	adminURL := os.Getenv("MATCHD_ADMIN_URL")
	if wsURL == "" {
		wsURL = "ws://localhost:8080/ws"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if adminURL != "" {
		ac := admin.NewClient(adminURL, admin.WithTimeout(3*time.Second))
		if snap, err := ac.Stats(ctx); err != nil {
			log.Printf("/stats error: %v", err)
		} else {
			log.Printf("/stats ok: connections=%d live=%d waiting=%d active=%d",
				snap.Connections, snap.Sessions.Live, snap.Sessions.Waiting, snap.Sessions.Active)
		}
	}

	white, whiteIn := connect(ctx, wsURL, "check-white")
	defer white.Close(context.Background())
	black, blackIn := connect(ctx, wsURL, "check-black")
	defer black.Close(context.Background())

	must(white.Send(ctx, protocol.InitGame{}), "send init_game")
	p, err := whiteIn.Await(ctx, protocol.KindGameAdded)
	must(err, "await game_added")
	added := p.(protocol.GameAdded)
	log.Printf("game_added id=%s room=%s", added.GameID, added.RoomCode)

	// join by room code so the check never pairs with a stranger waiting in the slot
	must(black.Send(ctx, protocol.JoinRoom{RoomCode: added.RoomCode}), "send join_room")
	p, err = blackIn.Await(ctx, protocol.KindGameJoined)
	must(err, "await game_joined")
	joined := p.(protocol.GameJoined)
	log.Printf("game_joined white=%s black=%s", joined.White.Name, joined.Black.Name)

	must(white.Send(ctx, protocol.MoveRequest{GameID: added.GameID, Move: protocol.Move{From: "e2", To: "e4"}}), "send move")
	p, err = blackIn.Await(ctx, protocol.KindMove)
	must(err, "await move relay")
	relay := p.(protocol.MoveRelay)
	fmt.Printf("relay ply=%d san=%s turn=%s fen=%s\n", relay.Ply, relay.SAN, relay.Turn, relay.FEN)

	must(white.Send(ctx, protocol.ExitGame{GameID: added.GameID}), "send exit_game")
	p, err = blackIn.Await(ctx, protocol.KindGameEnded)
	must(err, "await game_ended")
	ended := p.(protocol.GameEnded)
	fmt.Printf("ended reason=%s result=%s\n", ended.Reason, ended.Result)
}

func connect(ctx context.Context, url, name string) (*wsclient.Client, *wsclient.Inbox) {
	c := wsclient.New(url, wsclient.WithName(name))
	c.OnStateChange(func(state wsclient.State) {
		log.Printf("%s state: %s", name, state)
	})
	in := c.Inbox(32)
	if err := c.Connect(ctx); err != nil {
		log.Fatalf("%s connect error: %v", name, err)
	}
	return c, in
}

func must(err error, what string) {
	if err != nil {
		log.Fatalf("%s: %v", what, err)
	}
}
