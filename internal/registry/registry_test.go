package registry

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/park285/Cheese-matchd/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	refuse bool
}

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refuse {
		return errors.New("queue full")
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	c := &fakeConn{}
	u := r.Register(c, "  alice ")
	if u.Name != "alice" || u.ID == "" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if again := r.Register(c, "other"); again != u {
		t.Fatalf("re-register created a new user")
	}
	anon := r.Register(&fakeConn{}, "")
	if !strings.HasPrefix(anon.Name, "player-") {
		t.Fatalf("default name=%q", anon.Name)
	}
	if got, ok := r.Lookup(c); !ok || got.ID != u.ID {
		t.Fatalf("Lookup failed")
	}
	if got, ok := r.Get(u.ID); !ok || got.Conn() != c {
		t.Fatalf("Get failed")
	}
	if r.Count() != 2 {
		t.Fatalf("count=%d", r.Count())
	}
}

func TestUnregister_RunsCallbacksOnce(t *testing.T) {
	r := New()
	var gone []string
	r.OnDisconnect(func(u *User) { gone = append(gone, u.ID) })

	c := &fakeConn{}
	u := r.Register(c, "bob")
	if err := r.Unregister(c); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if err := r.Unregister(c); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Unregister err=%v", err)
	}
	if len(gone) != 1 || gone[0] != u.ID {
		t.Fatalf("callbacks=%v", gone)
	}
	if _, ok := r.Get(u.ID); ok {
		t.Fatalf("user still registered")
	}
}

func TestSendTo_DropsSilently(t *testing.T) {
	r := New()
	c := &fakeConn{}
	u := r.Register(c, "alice")

	if !r.SendTo(u.ID, protocol.GameAdded{GameID: "g1", RoomCode: "CH-AAAAAA"}) {
		t.Fatalf("SendTo to live user failed")
	}
	if r.SendTo("nobody", protocol.GameAdded{GameID: "g1"}) {
		t.Fatalf("SendTo to unknown user reported success")
	}
	c.refuse = true
	if r.SendTo(u.ID, protocol.GameAdded{GameID: "g1"}) {
		t.Fatalf("refused frame reported success")
	}
	if c.count() != 1 {
		t.Fatalf("frames=%d", c.count())
	}
	p, err := protocol.Decode(c.frames[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if added, ok := p.(protocol.GameAdded); !ok || added.RoomCode != "CH-AAAAAA" {
		t.Fatalf("unexpected frame %#v", p)
	}
}

func TestBroadcastTo_Dedup(t *testing.T) {
	r := New()
	a, b := &fakeConn{}, &fakeConn{}
	ua := r.Register(a, "a")
	ub := r.Register(b, "b")
	n := r.BroadcastTo([]string{ua.ID, ub.ID, ua.ID, "", "ghost"}, protocol.OpponentDisconnected{GameID: "g1"})
	if n != 2 || a.count() != 1 || b.count() != 1 {
		t.Fatalf("sent=%d a=%d b=%d", n, a.count(), b.count())
	}
}
