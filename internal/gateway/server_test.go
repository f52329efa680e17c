package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/park285/Cheese-matchd/internal/matchmaker"
	"github.com/park285/Cheese-matchd/internal/protocol"
	"github.com/park285/Cheese-matchd/internal/registry"
	"github.com/park285/Cheese-matchd/internal/wsclient"
	"nhooyr.io/websocket"
)

func startServer(t *testing.T) (string, *registry.Registry, *matchmaker.Matchmaker) {
	t.Helper()
	reg := registry.New()
	mm := matchmaker.New(reg, matchmaker.Options{})
	reg.OnDisconnect(func(u *registry.User) { mm.Disconnect(u.ID) })
	srv := httptest.NewServer(New(reg, mm, Options{SendBuffer: 8, WriteTimeout: time.Second}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), reg, mm
}

func dial(t *testing.T, ctx context.Context, url, name string) (*wsclient.Client, *wsclient.Inbox) {
	t.Helper()
	c := wsclient.New(url, wsclient.WithName(name), wsclient.WithPingInterval(0))
	in := c.Inbox(32)
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect %s: %v", name, err)
	}
	return c, in
}

func TestGateway_PairMoveDisconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	url, reg, mm := startServer(t)

	alice, aliceIn := dial(t, ctx, url, "alice")
	defer alice.Close(context.Background())
	bob, bobIn := dial(t, ctx, url, "bob")

	if err := alice.Send(ctx, protocol.InitGame{}); err != nil {
		t.Fatalf("send init: %v", err)
	}
	p, err := aliceIn.Await(ctx, protocol.KindGameAdded)
	if err != nil {
		t.Fatalf("await game_added: %v", err)
	}
	added := p.(protocol.GameAdded)

	if err := bob.Send(ctx, protocol.JoinRoom{RoomCode: added.RoomCode}); err != nil {
		t.Fatalf("send join: %v", err)
	}
	for name, in := range map[string]*wsclient.Inbox{"alice": aliceIn, "bob": bobIn} {
		p, err := in.Await(ctx, protocol.KindGameJoined)
		if err != nil {
			t.Fatalf("%s await game_joined: %v", name, err)
		}
		joined := p.(protocol.GameJoined)
		if joined.GameID != added.GameID || joined.White.Name != "alice" || joined.Black.Name != "bob" {
			t.Fatalf("%s joined=%+v", name, joined)
		}
	}

	if err := alice.Send(ctx, protocol.MoveRequest{Move: protocol.Move{From: "e2", To: "e4"}}); err != nil {
		t.Fatalf("send move: %v", err)
	}
	p, err = bobIn.Await(ctx, protocol.KindMove)
	if err != nil {
		t.Fatalf("await move: %v", err)
	}
	if relay := p.(protocol.MoveRelay); relay.SAN != "e4" || relay.Turn != "black" {
		t.Fatalf("relay=%+v", relay)
	}

	if err := bob.SendRaw(ctx, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("send bogus: %v", err)
	}
	p, err = bobIn.Await(ctx, protocol.KindGameAlert)
	if err != nil {
		t.Fatalf("await alert: %v", err)
	}
	if alert := p.(protocol.GameAlert); alert.Code != matchmaker.AlertUnknownType {
		t.Fatalf("alert=%+v", alert)
	}

	if err := bob.Close(ctx); err != nil {
		t.Fatalf("close bob: %v", err)
	}
	p, err = aliceIn.Await(ctx, protocol.KindOpponentDisconnected)
	if err != nil {
		t.Fatalf("await opponent_disconnected: %v", err)
	}
	if p.(protocol.OpponentDisconnected).GameID != added.GameID {
		t.Fatalf("unexpected payload %+v", p)
	}

	deadline := time.Now().Add(2 * time.Second)
	for reg.Count() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if reg.Count() != 1 {
		t.Fatalf("registry count=%d", reg.Count())
	}
	if st := mm.Stats(); st.Live != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestConn_SendAfterShutdown(t *testing.T) {
	c := &wsConn{out: make(chan []byte, 1), done: make(chan struct{})}
	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if err := c.Send([]byte("b")); err != ErrConnClosed {
		t.Fatalf("send after close err=%v", err)
	}
}

func TestConn_SlowConsumerClosed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sends := make(chan [2]error, 1)
	readErr := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// no writer goroutine, so the queue never drains
		c := newConn(ws, 1, time.Second)
		sends <- [2]error{c.Send([]byte(`{"type":"a"}`)), c.Send([]byte(`{"type":"b"}`))}
		_, _, err = ws.Read(ctx)
		readErr <- err
	}))
	defer srv.Close()

	cws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cws.CloseNow()

	var errs [2]error
	select {
	case errs = <-sends:
	case <-ctx.Done():
		t.Fatalf("server never accepted")
	}
	if errs[0] != nil {
		t.Fatalf("first send: %v", errs[0])
	}
	if !errors.Is(errs[1], ErrSlowConsumer) {
		t.Fatalf("second send err=%v", errs[1])
	}

	_, _, err = cws.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Fatalf("client read err=%v status=%v", err, status)
	}
	select {
	case err := <-readErr:
		if err == nil {
			t.Fatalf("server read loop kept running after close")
		}
	case <-ctx.Done():
		t.Fatalf("server read loop did not end")
	}
}
