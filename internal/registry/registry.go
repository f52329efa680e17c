package registry

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/Cheese-matchd/internal/obslog"
	"github.com/park285/Cheese-matchd/internal/protocol"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("connection not registered")

// Conn is a transport handle able to carry outbound frames.
// Send must not block; a refused frame returns an error.
type Conn interface {
	Send(frame []byte) error
}

// User is a connected player bound to one Conn.
type User struct {
	ID          string
	Name        string
	ConnectedAt time.Time

	conn Conn
}

func (u *User) Conn() Conn { return u.conn }

// Registry tracks connected users.
type Registry struct {
	mu     sync.RWMutex
	byConn map[Conn]*User
	byID   map[string]*User

	hookMu       sync.RWMutex
	onDisconnect []func(*User)

	now func() time.Time
}

func New() *Registry {
	return &Registry{
		byConn: make(map[Conn]*User),
		byID:   make(map[string]*User),
		now:    time.Now,
	}
}

// OnDisconnect registers fn to run after a user is unregistered.
func (r *Registry) OnDisconnect(fn func(*User)) {
	if fn == nil {
		return
	}
	r.hookMu.Lock()
	r.onDisconnect = append(r.onDisconnect, fn)
	r.hookMu.Unlock()
}

// Register binds conn to a fresh user. Registering the same conn twice returns the existing user.
func (r *Registry) Register(conn Conn, name string) *User {
	r.mu.Lock()
	if u, ok := r.byConn[conn]; ok {
		r.mu.Unlock()
		return u
	}
	id := uuid.NewString()
	name = strings.TrimSpace(name)
	if name == "" {
		name = "player-" + id[:8]
	}
	u := &User{ID: id, Name: name, ConnectedAt: r.now(), conn: conn}
	r.byConn[conn] = u
	r.byID[id] = u
	total := len(r.byID)
	r.mu.Unlock()

	obslog.L().Info("registry_register",
		zap.String("user_id", u.ID),
		zap.String("name", u.Name),
		zap.Int("connected", total),
	)
	return u
}

// Unregister removes conn and runs disconnect callbacks.
func (r *Registry) Unregister(conn Conn) error {
	r.mu.Lock()
	u, ok := r.byConn[conn]
	if ok {
		delete(r.byConn, conn)
		delete(r.byID, u.ID)
	}
	total := len(r.byID)
	r.mu.Unlock()

	if !ok {
		obslog.L().Warn("registry_unregister_unknown")
		return ErrNotFound
	}
	obslog.L().Info("registry_unregister",
		zap.String("user_id", u.ID),
		zap.Int("connected", total),
	)

	r.hookMu.RLock()
	hooks := append([]func(*User){}, r.onDisconnect...)
	r.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(u)
	}
	return nil
}

func (r *Registry) Lookup(conn Conn) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byConn[conn]
	return u, ok
}

func (r *Registry) Get(userID string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[userID]
	return u, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// SendTo delivers p to userID. Missing users and refused frames are dropped.
func (r *Registry) SendTo(userID string, p protocol.Payload) bool {
	frame, err := protocol.Marshal(p)
	if err != nil {
		obslog.L().Error("registry_encode_failed", zap.String("kind", string(p.Kind())), zap.Error(err))
		return false
	}
	return r.sendFrame(userID, p.Kind(), frame)
}

// BroadcastTo sends p once to every distinct user in ids.
func (r *Registry) BroadcastTo(ids []string, p protocol.Payload) int {
	frame, err := protocol.Marshal(p)
	if err != nil {
		obslog.L().Error("registry_encode_failed", zap.String("kind", string(p.Kind())), zap.Error(err))
		return 0
	}
	sent := 0
	for _, id := range lo.Uniq(lo.Compact(ids)) {
		if r.sendFrame(id, p.Kind(), frame) {
			sent++
		}
	}
	return sent
}

func (r *Registry) sendFrame(userID string, kind protocol.Kind, frame []byte) bool {
	r.mu.RLock()
	u, ok := r.byID[userID]
	r.mu.RUnlock()
	if !ok {
		obslog.L().Debug("registry_send_dropped", zap.String("user_id", userID), zap.String("kind", string(kind)))
		return false
	}
	if err := u.conn.Send(frame); err != nil {
		obslog.L().Debug("registry_send_refused",
			zap.String("user_id", userID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return false
	}
	return true
}
